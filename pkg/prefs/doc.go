// Package prefs stores per-table column preferences.
//
// A Backend loads and saves one Preferences snapshot for one Ref. A Store is
// the per-table view a table works against: it keeps the user's own snapshot
// in memory, applies partial updates with merge semantics and writes every
// change through to the backend. A Resolver loads several scopes of the same
// table and layers them, stronger scopes first.
//
// Data flow:
//
//	Backend -> Resolver -> layering.MergeLayers -> Store.Preferences()
//
// Storage keys:
//
//	Ref.Identifier() yields `system/<table>`, `workspace/<workspace_id>/<table>`
//	or `user/<user_id>/<table>`.
package prefs
