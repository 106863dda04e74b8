// Package http provides HTTP handlers and middleware for the booking API.
//
// The router exposes the following endpoints:
//   - GET /rooms, POST /rooms, GET /rooms/{id}, PUT /rooms/{id}, DELETE /rooms/{id}:
//     room catalog endpoints exchanging the `roomDTO` payload defined in
//     room_handler.go. Deleting a room cancels its reservations.
//   - GET /rooms/{id}/reservations?from=&to=: reservations with at least one
//     occurrence in [from, to). Each entry lists the occurrences inside the window.
//   - GET /rooms/{id}/calendar.ics: the room's reservations as an iCalendar feed.
//     Recurring reservations carry an RRULE.
//   - POST /reservations: books a room. Responds 201 with the `reservationDTO`,
//     409 with the conflicting reservation when the time is taken, and 422 for
//     other rejections or invalid input.
//   - POST /reservations/check: evaluates a booking without storing it and
//     responds 200 with {"accepted", "reservation" | "rejection"}.
//   - GET /reservations/{id}, DELETE /reservations/{id}: fetch or cancel.
//   - GET /healthz: database reachability.
//
// Timestamps are RFC 3339. Recurrence is given either as
// {"frequency","step","series_end"} or as {"rrule"}. An omitted step means 1.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
