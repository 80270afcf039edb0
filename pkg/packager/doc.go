/*
Package packager assembles deposit packages as lazy byte streams.

An Assembler turns a DepositModel into a PackageStream: a single-read,
forward-only byte source with attached metadata (name, packaging spec, mime
type, archive format, checksums, and the verbatim submission-meta blob).
Nothing is written until the consumer calls Open; from then on a producer
goroutine drives the archive encoder into an in-memory pipe with a bounded
(~1 MiB) buffer, so a transport can start uploading while assembly is still
running.

Three packaging profiles are implemented:

  - NIHMS native (tar+gzip): manifest.txt, bulk_meta.xml, then the custodial
    files. Custodial names that collide with the reserved metadata names are
    stored under a REMEDIATED- prefix and the manifest records the
    remediated name.
  - DSpace METS SIP (zip): mets.xml plus a data/ directory; every custodial
    file is registered in the METS fileSec with a deterministic file id and
    an xlink:href of data/<name>.
  - SimpleZip (zip): the custodial files at the archive root.

Checksums are computed on a tee of each entry's bytes during the single
forward read of the source; no random access is ever required. A failure in
the producer closes the pipe with the original cause, which the consumer's
next read surfaces intact.
*/
package packager
