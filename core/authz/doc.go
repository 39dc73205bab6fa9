// Package authz routes authorization and charge detail record requests across
// a priority-ordered set of backends.
//
// AuthorizeStart asks backends in ascending priority and stops at the first
// Authorized or Blocked answer. An Authorized start binds the session to the
// answering backend so AuthorizeStop and SendChargeDetailRecord for that
// session ask it first, falling back to the full ordered search. A forwarded
// charge detail record removes the binding.
//
// Backend calls run outside the router lock; only the backend list and the
// session bindings are guarded.
package authz
