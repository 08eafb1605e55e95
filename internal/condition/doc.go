// Package condition implements the predicate algebra used to decide which
// sender implementation applies to a message.
//
// Conditions are pure: And and Or evaluate left to right and stop as soon as
// the result is known, and property or capability lookups are performed on
// every call so a changing environment is always observed.
//
// The fluent helpers nest by call order:
//
//	host := condition.Property(r, "mail.host").Or(condition.Property(r, "mail.smtp.host"))
//	port := condition.Property(r, "mail.port").Or(condition.Property(r, "mail.smtp.port"))
//	smtp := host.And(port) // (host OR smtp.host) AND (port OR smtp.port)
package condition
