// Package notify keeps the locally held notification list and unread counter
// in step with the backend.
//
// The list is most recent first. Pushes from the realtime channel are
// inserted at the front and bump the counter by one when unread; MarkRead
// and MarkAllRead update local state only after the backend accepted the
// change. Refresh and SyncUnreadCount are the reconciliation points: they
// replace local state with what the server reports, so the counter is
// authoritative from the server and local changes between refreshes are
// approximations. Pushed notifications are not deduplicated by ID; the
// background recount that follows every push keeps the counter correct.
// Recounts never block push dispatch, and pushes that arrive during one are
// coalesced into a single follow-up.
package notify
