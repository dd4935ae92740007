/*
Package devbackend is an in-memory stand-in for the SWMS backend.

It implements the REST contract the client consumes and the notification
hub, so the client, the CLI and the end-to-end tests can run without the
real server.

	/api/auth/login                      POST   rate limited per client address
	/api/auth/refresh-token              POST   single-use refresh tokens
	/api/auth/change-password            POST   bearer
	/api/auth/logout                     POST   bearer, revokes tokens
	/api/user/dashboard                  GET    bearer
	/api/user/notifications              GET    bearer, ?pageSize&pageNumber
	/api/user/notifications/unread-count GET    bearer
	/api/user/notifications/{id}/mark-read  POST
	/api/user/notifications/mark-all-read   POST
	/api/admin/users[/{id}[/deactivate|/resend-password]]  Admin role
	/hubs/notification                   websocket, ?access_token

Access tokens are HS256 JWTs carrying nameid, email, name, role and exp
claims. Passwords are stored as bcrypt hashes. One administrator is seeded:
a@b.com with password Secret1!.

Push stores a notification for a user and sends it to that user's hub
connections. Hub().DropAll simulates a network failure.
*/
package devbackend
