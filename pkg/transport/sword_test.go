package transport

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oabridge/depositd/pkg/builder"
	"github.com/oabridge/depositd/pkg/packager"
)

// memOpener serves custodial content for package construction in tests.
type memOpener map[string]string

func (m memOpener) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	s, ok := m[uri]
	if !ok {
		return nil, fmt.Errorf("no content at %s", uri)
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func testPackage(t *testing.T, submissionMeta string) *packager.PackageStream {
	t.Helper()
	m := &builder.DepositModel{
		SubmissionID: "http://example.org/submissions/7",
		Title:        "T",
		Files: []builder.ModelFile{
			{Name: "manuscript.pdf", Type: builder.FileManuscript, URI: "u:ms"},
		},
	}
	a := packager.NewSimpleZipAssembler(memOpener{"u:ms": "bytes"})
	stream, err := a.Assemble(m, packager.Options{
		Spec:           packager.SpecSimpleZip,
		Archive:        packager.ArchiveZip,
		Compression:    packager.CompressionZip,
		Algorithms:     []packager.Algo{packager.MD5},
		SubmissionMeta: submissionMeta,
	})
	require.NoError(t, err)
	return stream
}

const swordReceipt = `<?xml version="1.0"?>
<entry xmlns="http://www.w3.org/2005/Atom">
  <link rel="edit" href="http://sword.example/edit/1"/>
  <link rel="http://purl.org/net/sword/terms/statement"
        type="application/atom+xml;type=feed"
        href="http://sword.example/statement/1"/>
</entry>`

// swordTarget is a minimal SWORDv2 endpoint: a service document advertising
// collections /2 and /4, and deposit handlers per collection.
func swordTarget(t *testing.T, onDeposit func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/servicedocument", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<service xmlns="http://www.w3.org/2007/app">
  <workspace>
    <title>Deposits</title>
    <collection href="%s/collection/2"><title>Default</title></collection>
    <collection href="%s/collection/4"><title>COVID</title></collection>
  </workspace>
</service>`, srv.URL, srv.URL)
	})
	mux.HandleFunc("/collection/", onDeposit)
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func swordHints(serverURL string) Hints {
	return Hints{
		Protocol: ProtocolSword,
		AuthMode: AuthUserPass,
		Username: "dspace-admin",
		Password: "foobar",
		Sword: &SwordHints{
			ServiceDocURL:        serverURL + "/servicedocument",
			DefaultCollectionURL: serverURL + "/collection/2",
			OnBehalfOf:           "depositor",
			CollectionHints: []CollectionHint{
				{Tag: "covid", URL: serverURL + "/collection/4"},
				{Tag: "nobel", URL: serverURL + "/collection/2"},
			},
		},
	}
}

func TestSwordDepositSuccess(t *testing.T) {
	var gotPath, gotDisposition, gotPackaging, gotInProgress, gotOnBehalf, gotMD5 string
	var gotLength int64
	var gotBody []byte
	srv := swordTarget(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDisposition = r.Header.Get("Content-Disposition")
		gotPackaging = r.Header.Get("Packaging")
		gotInProgress = r.Header.Get("In-Progress")
		gotOnBehalf = r.Header.Get("On-Behalf-Of")
		gotMD5 = r.Header.Get("Content-MD5")
		gotLength = r.ContentLength
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, swordReceipt)
	})

	session, err := NewSwordTransport().Open(context.Background(), swordHints(srv.URL))
	require.NoError(t, err)
	defer session.Close()

	pkg := testPackage(t, "")
	defer pkg.Close()
	receipt, err := session.Send(context.Background(), pkg)
	require.NoError(t, err)

	assert.Equal(t, "/collection/2", gotPath, "no hints means the default collection")
	assert.Equal(t, "attachment; filename=simple-zip_7.zip", gotDisposition)
	assert.Equal(t, packager.SpecSimpleZip, gotPackaging)
	assert.Equal(t, "false", gotInProgress)
	assert.Equal(t, "depositor", gotOnBehalf)
	assert.Equal(t, int64(len(gotBody)), gotLength, "length is declared ahead of the body")
	assert.Equal(t, fmt.Sprintf("%x", md5.Sum(gotBody)), gotMD5)
	assert.Equal(t, "http://sword.example/statement/1", receipt.StatusRef)
	assert.Equal(t, "http://sword.example/edit/1", receipt.Location)
}

func TestSwordCollectionHintRouting(t *testing.T) {
	var gotPath string
	srv := swordTarget(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, swordReceipt)
	})

	session, err := NewSwordTransport().Open(context.Background(), swordHints(srv.URL))
	require.NoError(t, err)
	defer session.Close()

	// Both configured tags match; the first configured hint wins.
	pkg := testPackage(t, `{"hints":{"collection-tags":["nobel","covid"]}}`)
	defer pkg.Close()
	_, err = session.Send(context.Background(), pkg)
	require.NoError(t, err)

	assert.Equal(t, "/collection/4", gotPath)
}

func TestSwordHintTagMatchIsCaseInsensitive(t *testing.T) {
	var gotPath string
	srv := swordTarget(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, swordReceipt)
	})

	session, err := NewSwordTransport().Open(context.Background(), swordHints(srv.URL))
	require.NoError(t, err)
	defer session.Close()

	pkg := testPackage(t, `{"hints":{"collection-tags":["COVID"]}}`)
	defer pkg.Close()
	_, err = session.Send(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, "/collection/4", gotPath)
}

func TestSwordRejectsUnadvertisedCollection(t *testing.T) {
	srv := swordTarget(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no deposit should be attempted")
	})

	hints := swordHints(srv.URL)
	hints.Sword.DefaultCollectionURL = srv.URL + "/collection/99"
	session, err := NewSwordTransport().Open(context.Background(), hints)
	require.NoError(t, err)
	defer session.Close()

	pkg := testPackage(t, "")
	defer pkg.Close()
	_, err = session.Send(context.Background(), pkg)
	var collErr *InvalidCollectionURLError
	require.ErrorAs(t, err, &collErr)
	assert.Contains(t, collErr.URL, "/collection/99")
}

func TestSwordChecksumRejectionPreservesBody(t *testing.T) {
	srv := swordTarget(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprint(w, `<?xml version="1.0"?>
<error xmlns="http://purl.org/net/sword/error" href="http://purl.org/net/sword/error/ErrorChecksumMismatch">
  <title>ERROR</title>
  <summary>MD5 checksum for the deposited file did not match the checksum provided</summary>
</error>`)
	})

	session, err := NewSwordTransport().Open(context.Background(), swordHints(srv.URL))
	require.NoError(t, err)
	defer session.Close()

	pkg := testPackage(t, "")
	defer pkg.Close()
	_, err = session.Send(context.Background(), pkg)

	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusPreconditionFailed, rej.Status)
	assert.Contains(t, rej.Error(), "MD5 checksum for the deposited file did not match")
}

func TestSwordServerErrorTaintsSession(t *testing.T) {
	srv := swordTarget(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	})

	session, err := NewSwordTransport().Open(context.Background(), swordHints(srv.URL))
	require.NoError(t, err)
	defer session.Close()

	pkg := testPackage(t, "")
	defer pkg.Close()
	_, err = session.Send(context.Background(), pkg)
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)

	pkg2 := testPackage(t, "")
	defer pkg2.Close()
	_, err = session.Send(context.Background(), pkg2)
	assert.ErrorIs(t, err, ErrSessionTainted)
}

func TestSwordServiceDocUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hints := swordHints(srv.URL)
	_, err := NewSwordTransport().Open(context.Background(), hints)
	var srvErr *ServerError
	assert.ErrorAs(t, err, &srvErr)
}
