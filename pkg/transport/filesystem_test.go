package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemSend(t *testing.T) {
	dir := t.TempDir()
	session, err := (&FilesystemTransport{}).Open(context.Background(), Hints{
		Protocol:   ProtocolFilesystem,
		Filesystem: &FilesystemHints{BaseDirectory: dir},
	})
	require.NoError(t, err)
	defer session.Close()

	pkg := testPackage(t, "")
	defer pkg.Close()
	receipt, err := session.Send(context.Background(), pkg)
	require.NoError(t, err)

	want := filepath.Join(dir, "simple-zip_7.zip")
	assert.Equal(t, want, receipt.Location)
	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestFilesystemRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	session, err := (&FilesystemTransport{}).Open(context.Background(), Hints{
		Protocol:   ProtocolFilesystem,
		Filesystem: &FilesystemHints{BaseDirectory: dir},
	})
	require.NoError(t, err)
	defer session.Close()

	pkg := testPackage(t, "")
	defer pkg.Close()
	_, err = session.Send(context.Background(), pkg)
	require.NoError(t, err)

	pkg2 := testPackage(t, "")
	defer pkg2.Close()
	_, err = session.Send(context.Background(), pkg2)
	assert.Error(t, err, "same package name without overwrite must fail")
}

func TestFilesystemOverwrite(t *testing.T) {
	dir := t.TempDir()
	session, err := (&FilesystemTransport{}).Open(context.Background(), Hints{
		Protocol:   ProtocolFilesystem,
		Filesystem: &FilesystemHints{BaseDirectory: dir, Overwrite: true},
	})
	require.NoError(t, err)
	defer session.Close()

	for i := 0; i < 2; i++ {
		pkg := testPackage(t, "")
		_, err = session.Send(context.Background(), pkg)
		pkg.Close()
		require.NoError(t, err)
	}
}

func TestFilesystemRequiresHints(t *testing.T) {
	_, err := (&FilesystemTransport{}).Open(context.Background(), Hints{Protocol: ProtocolFilesystem})
	assert.Error(t, err)
}

func TestResolveBaseDir(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, "/logs/upload/"+today, resolveBaseDir("/logs/upload/%s"))
	assert.Equal(t, "/logs/upload/static", resolveBaseDir("/logs/upload/static"))
	assert.Equal(t, "", resolveBaseDir(""))
}

func TestFTPOpenRejectsBadHintsBasic(t *testing.T) {
	tr := &FTPTransport{}

	_, err := tr.Open(context.Background(), Hints{Protocol: ProtocolFTP})
	assert.Error(t, err, "missing ftp hints")

	_, err = tr.Open(context.Background(), Hints{
		Protocol: ProtocolFTP,
		FTP:      &FTPHints{TransferMode: "block", UsePasv: true},
	})
	assert.Error(t, err, "only stream mode is supported")

	_, err = tr.Open(context.Background(), Hints{
		Protocol: ProtocolFTP,
		FTP:      &FTPHints{TransferMode: "stream", UsePasv: false},
	})
	assert.Error(t, err, "active mode is not supported")
}

func TestForProtocol(t *testing.T) {
	for _, p := range []Protocol{ProtocolFTP, ProtocolSword, ProtocolFilesystem} {
		tr, err := ForProtocol(p)
		assert.NoError(t, err)
		assert.NotNil(t, tr)
	}
	_, err := ForProtocol("gopher")
	assert.Error(t, err)
}
