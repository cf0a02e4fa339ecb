package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
mail:
  host: "imap.example.com"
  port: 993
  username: "tracker"
  password: "secret"
  mailbox: "INBOX"
  scan_interval_minutes: 5
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "tracker"
kafka:
  host: "localhost"
  port: 9092
  code_topic_name: "doordrop.kod"
  status_topic_name: "doordrop.status"
  consumer_group: "doordrop-agent"
redis:
  host: "localhost"
  port: 6379
gate:
  button_entity_id: "input_button.furtka"
  supervisor_url: "http://supervisor/core"
  authorized_barcodes: "111, 222,"
  http_addr: ":8082"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "imap.example.com", cfg.Mail.Host)
	require.Equal(t, 5, cfg.Mail.ScanIntervalMinutes)
	require.Equal(t, "tracker", cfg.Database.DBName)
	require.Equal(t, "doordrop.kod", cfg.Kafka.CodeTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "input_button.furtka", cfg.Gate.ButtonEntityID)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestAuthorizedBarcodeSet(t *testing.T) {
	g := GateConfig{AuthorizedBarcodes: "111, 222 ,,333"}
	set := g.AuthorizedBarcodeSet()
	require.Len(t, set, 3)
	require.Contains(t, set, "222")
	require.NotContains(t, set, "")

	require.Empty(t, GateConfig{}.AuthorizedBarcodeSet())
}
