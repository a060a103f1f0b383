// Package textutil provides filename and token sanitization for anything a
// client supplies that ends up on disk or in a metrics label.
package textutil
