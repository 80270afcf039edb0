/*
Package builder resolves a submission's entity graph into a DepositModel.

Starting from a submission id it fetches the submission, then resolves the
directly referenced neighbors in parallel: the publication chain
(Publication -> Journal -> Publisher), the grants and their investigators,
the submitter, and the custodial files. Fields that live in the opaque
submission-meta blob (title, abstract, journal identifiers, DOI, embargo
date) are extracted here; the blob itself is preserved verbatim so that
downstream transports see exactly what the user submitted.

A defect in the graph (missing submitter, unresolvable reference, malformed
DOI, unparseable embargo date) is terminal for the deposit task and is
reported as an error wrapping ErrInvalidModel.
*/
package builder
