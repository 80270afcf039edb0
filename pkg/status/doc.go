/*
Package status resolves the asynchronous outcome of a submitted deposit by
probing the status reference recorded at deposit time.

For SWORDv2 targets the reference is an Atom statement: the resolver fetches
the feed, extracts the category carrying the SWORD state scheme, and maps the
state term through the repository's configured status mapping. An exact
(case-insensitive) term match wins over the wildcard entry; a term with no
mapping resolves to unknown and leaves the deposit untouched.
*/
package status
