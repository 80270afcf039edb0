package packager

import (
	"fmt"
	"strings"

	"github.com/oabridge/depositd/pkg/builder"
)

// Spec URIs of the supported packaging profiles.
const (
	SpecNIHMS     = "nihms-native-2017-07"
	SpecDSpaceSIP = "http://purl.org/net/sword/package/METSDSpaceSIP"
	SpecSimpleZip = "simple-zip"
)

// Reserved metadata entry names. Custodial files colliding with these are
// stored under the remediation prefix.
const (
	RemediationPrefix = "REMEDIATED-"

	nihmsManifestName = "manifest.txt"
	nihmsMetaName     = "bulk_meta.xml"
	metsName          = "mets.xml"
)

// Options configure one assembly run.
type Options struct {
	Spec        string
	Archive     Archive
	Compression Compression
	Algorithms  []Algo

	// SubmissionMeta is attached verbatim to the package metadata so
	// transports can read routing hints from it.
	SubmissionMeta string
}

// Assembler produces a PackageStream from a deposit model.
type Assembler interface {
	Assemble(model *builder.DepositModel, opts Options) (*PackageStream, error)
}

// ForSpec returns the assembler implementing the given packaging profile.
func ForSpec(spec string, opener Opener) (Assembler, error) {
	switch spec {
	case SpecNIHMS:
		return &NihmsAssembler{opener: opener}, nil
	case SpecDSpaceSIP:
		return &DSpaceAssembler{opener: opener}, nil
	case SpecSimpleZip:
		return &SimpleZipAssembler{opener: opener}, nil
	}
	return nil, fmt.Errorf("no assembler for packaging spec %q", spec)
}

// remediate maps custodial file names onto archive entry names, prefixing
// any name that collides with a reserved metadata name so both entries can
// coexist unambiguously. Duplicate custodial names are uniquified with a
// numeric suffix so extraction round-trips the logical file set.
func remediate(files []builder.ModelFile, reserved ...string) []string {
	isReserved := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		isReserved[r] = true
	}
	seen := make(map[string]bool, len(files))
	names := make([]string, len(files))
	for i, f := range files {
		name := f.Name
		if isReserved[name] {
			name = RemediationPrefix + name
		}
		if seen[name] {
			base, ext := splitExt(name)
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
				if !seen[candidate] {
					name = candidate
					break
				}
			}
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func splitExt(name string) (string, string) {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

// slug reduces a resource identifier (possibly a URI) to a name-safe tail.
func slug(id string) string {
	id = strings.TrimRight(id, "/")
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "package"
	}
	return b.String()
}
