// Package fixtures supplies test input data, either static (JSON files
// under {dir}/{category}/{name}.json) or dynamic (registered generator
// functions), with caching and lazy dependency resolution between
// fixtures.
//
// Generators receive a GeneratorContext exposing the owning context's
// prefix, a per-invocation timestamp, and GetFixture for pulling other
// fixtures by identifier. Dependency chains form a DAG; a generator that
// transitively requests itself fails with ErrCycle instead of recursing.
//
// Identifiers follow a lexical convention: "dynamic:name" dispatches to a
// generator, "category/name" loads a static file. Missing fixtures are
// errors (ErrNotFound) — unlike the run-context layer, which reports
// absence as nil. Callers depend on that asymmetry.
package fixtures
