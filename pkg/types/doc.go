/*
Package types defines the data structures shared by every swms package.

The types mirror the backend's JSON contract: every REST response is wrapped in an
Envelope, logins return a Profile carrying both the user and the token pair, and
notifications arrive either from a paged REST fetch or as realtime pushes.

# Core Types

Authentication:
  - Credentials: login request body
  - Profile: authenticated user plus access/refresh tokens
  - TokenPair: refresh endpoint result
  - ChangePasswordRequest: change-password body

Notifications:
  - Notification: id, title, message, kind, read flag and timestamps
  - NotificationKind: Info, Success, Warning, Error

Administration:
  - User, CreateUserRequest, UpdateUserRequest
  - DashboardStats

Realtime:
  - ConnectionState: Disconnected, Connecting, Connected, Reconnecting

# Formatting

FormatDate, FormatDateTime and FormatTimeAgo render backend timestamps for the CLI.
Unparseable input renders as "Invalid date" rather than failing.
*/
package types
