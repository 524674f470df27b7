// Package isolation generates collision-free, namespaced identifiers for
// resources created during test execution.
//
// Each Manager is bound to one prefix (typically derived from a test
// context) and an isolation level. Generated names embed the prefix, a
// sanitized base and a per-base monotone sequence number, so every name a
// test creates can be recognised, swept and reversed later:
//
//	m := isolation.NewManager("checkout_1712000000_ab12", isolation.LevelTest)
//	m.GenerateUniqueName("My Document")  // checkout_1712000000_ab12_my_document_1
//	m.BelongsToContext(name)             // true
//	m.CreateFilterPattern()              // checkout_1712000000_ab12_%
//
// None of the operations in this package can fail; malformed input
// degrades to a valid sequenced name.
package isolation
