// Package oscmatch matches OSC-style slash-separated topics against wildcard patterns.
//
// Patterns are split on "/" and matched segment by segment; a pattern and a topic
// only match when they have the same number of segments. Within a segment:
//
//	*        any run of zero or more characters
//	?        exactly one character
//	[abc]    one character from the set; ranges like [a-z] are allowed
//	[!abc]   one character not in the set
//	{x,y,z}  any one of the comma-separated literal alternatives
//
// No wildcard crosses a segment boundary.
//
// Compile a pattern once with Compile and reuse the *Pattern; Match is a
// convenience for one-off checks. Matching is pure: a *Pattern is immutable
// and safe for concurrent use.
package oscmatch
