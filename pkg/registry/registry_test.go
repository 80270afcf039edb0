package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func yamlScalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

const validConfig = `
agent-name: depositd
workers: 4
refresh-interval: 45s
shutdown-wait: 5s
metrics-addr: ":9090"
broker:
  address: localhost:61613
  queue: /queue/events
  username: guest
  password: guest
source-repository:
  base-url: http://localhost:8080/data/
  username: backend
  password: moo
repositories:
  pmc:
    transport-config:
      protocol: ftp
      server-fqdn: ftp.example.org
      server-port: 21
      auth-realms:
        - mech: basic
          username: nihmsftpuser
          password: nihmsftppass
      ftp:
        transfer-mode: stream
        data-type: binary
        use-pasv: true
        base-directory: /logs/upload/%s
    assembler:
      options:
        spec: nihms-native-2017-07
        archive: tar
        compression: gzip
        algorithms: [MD5, SHA-512]
  jscholarship:
    transport-config:
      protocol: SWORDv2
      auth-realms:
        - mech: basic
          username: dspace-admin
          password: foobar
      swordv2:
        service-doc-url: https://dspace.example.org/swordv2/servicedocument
        default-collection-url: https://dspace.example.org/swordv2/collection/2
        on-behalf-of: depositor
        collection-hints:
          - tag: covid
            url: https://dspace.example.org/swordv2/collection/4
    assembler:
      options:
        spec: http://purl.org/net/sword/package/METSDSpaceSIP
        archive: zip
        compression: zip
    repository-depositconfig:
      deposit-processing:
        status-mapping:
          SWORDv2DspaceStatement:
            "http://dspace.org/state/archived": accepted
            "*": submitted
`

func TestParseValidConfig(t *testing.T) {
	reg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "depositd", reg.AgentName())
	assert.Equal(t, 4, reg.Workers())
	assert.Equal(t, 45*time.Second, reg.RefreshInterval())
	assert.Equal(t, 5*time.Second, reg.ShutdownWait())
	assert.Equal(t, ":9090", reg.MetricsAddr())
	assert.Equal(t, "/queue/events", reg.Broker().Queue)
	assert.Equal(t, "http://localhost:8080/data/", reg.SourceRepo().BaseURL)
	assert.ElementsMatch(t, []string{"pmc", "jscholarship"}, reg.Keys())

	pmc, err := reg.Get("pmc")
	require.NoError(t, err)
	assert.Equal(t, "pmc", pmc.Key)
	assert.Equal(t, ProtocolFTP, pmc.Transport.Protocol)
	require.NotNil(t, pmc.Transport.FTP)
	assert.Equal(t, "/logs/upload/%s", pmc.Transport.FTP.BaseDirectory)
	realm, ok := pmc.Transport.BasicRealm()
	require.True(t, ok)
	assert.Equal(t, "nihmsftpuser", realm.Username)

	js, err := reg.Get("jscholarship")
	require.NoError(t, err)
	require.NotNil(t, js.Transport.Sword)
	assert.Len(t, js.Transport.Sword.CollectionHints, 1)
	assert.Equal(t, "accepted",
		js.Deposit.Processing.StatusMapping["SWORDv2DspaceStatement"]["http://dspace.org/state/archived"])
}

func TestParseDefaults(t *testing.T) {
	reg, err := Parse([]byte(`
repositories:
  fs:
    transport-config:
      protocol: filesystem
      filesystem:
        base-directory: /tmp/deposits
    assembler:
      options:
        spec: simple-zip
        archive: zip
        compression: zip
`))
	require.NoError(t, err)

	assert.Equal(t, "depositd", reg.AgentName())
	assert.Greater(t, reg.Workers(), 0)
	assert.Equal(t, 30*time.Second, reg.RefreshInterval())
	assert.Equal(t, 10*time.Second, reg.ShutdownWait())

	fs, err := reg.Get("fs")
	require.NoError(t, err)
	assert.Equal(t, []Algorithm{MD5, SHA512}, fs.Assembler.Options.Algorithms)
}

func TestParseRejectsUnknownAuthMech(t *testing.T) {
	_, err := Parse([]byte(`
repositories:
  pmc:
    transport-config:
      protocol: ftp
      server-fqdn: ftp.example.org
      auth-realms:
        - mech: kerberos
          username: u
      ftp:
        use-pasv: true
    assembler:
      options:
        spec: nihms-native-2017-07
        archive: tar
        compression: gzip
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kerberos")
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		reason string
	}{
		{
			name: "unknown protocol",
			yaml: `
repositories:
  bad:
    transport-config:
      protocol: gopher
    assembler:
      options:
        spec: simple-zip
        archive: zip
        compression: zip
`,
			reason: "unknown transport protocol",
		},
		{
			name: "ftp without server",
			yaml: `
repositories:
  bad:
    transport-config:
      protocol: ftp
      ftp:
        use-pasv: true
    assembler:
      options:
        spec: nihms-native-2017-07
        archive: tar
        compression: gzip
`,
			reason: "server-fqdn",
		},
		{
			name: "sword without service doc",
			yaml: `
repositories:
  bad:
    transport-config:
      protocol: SWORDv2
      swordv2:
        default-collection-url: https://x/collection/1
    assembler:
      options:
        spec: simple-zip
        archive: zip
        compression: zip
`,
			reason: "service-doc-url",
		},
		{
			name: "missing assembler spec",
			yaml: `
repositories:
  bad:
    transport-config:
      protocol: filesystem
      filesystem:
        base-directory: /tmp/x
    assembler:
      options:
        archive: zip
        compression: zip
`,
			reason: "spec is required",
		},
		{
			name: "unknown checksum algorithm",
			yaml: `
repositories:
  bad:
    transport-config:
      protocol: filesystem
      filesystem:
        base-directory: /tmp/x
    assembler:
      options:
        spec: simple-zip
        archive: zip
        compression: zip
        algorithms: [CRC32]
`,
			reason: "unknown checksum algorithm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestGetUnknownRepository(t *testing.T) {
	reg, err := Parse([]byte(`repositories: {}`))
	require.NoError(t, err)

	_, err = reg.Get("nope")
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	err := d.UnmarshalYAML(yamlScalar("90s"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, time.Duration(d))

	err = d.UnmarshalYAML(yamlScalar("soon"))
	assert.Error(t, err)
}
