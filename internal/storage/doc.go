// Package storage is the durable directory of the bot: users, events, talks,
// questions, mailings with their delivery reports, shared conversation
// states and the dedup table used by scheduled reminders.
//
// Two drivers are supported behind database/sql:
//   - "sqlite": embedded database file (pure-Go modernc driver)
//   - "postgres": server database through the pgx stdlib driver
//
// Writes that close lifecycle races are conditional single statements; a
// statement that changes nothing reports meetup.ErrRaceLoss or
// meetup.ErrTalkNotLive instead of silently succeeding.
package storage
