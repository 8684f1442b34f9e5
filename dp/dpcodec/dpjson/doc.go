// Package dpjson contains types satisfying the [dpcodec] interfaces
// that serialize to and deserialize from JSON.
//
// These types are simple to work with, simple to maintain, and easy to read.
// You can certainly get better performance with other serialization methods.
package dpjson
