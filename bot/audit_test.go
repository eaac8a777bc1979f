package bot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "audit.jsonl")
}

func TestAuditChainVerifies(t *testing.T) {
	path := auditPath(t)
	a, err := NewAuditLogger(path)
	require.NoError(t, err)

	require.NoError(t, a.Append("lifecycle", "system", "started", map[string]interface{}{"version": "1.2.0"}))
	require.NoError(t, a.Append("order", "grid-btc", "placed", map[string]interface{}{"price": "100", "side": "buy"}))
	require.NoError(t, a.Append("lifecycle", "system", "stopped", nil))
	require.NoError(t, a.Close())

	ok, err := VerifyChain(path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuditChainLinksRecords(t *testing.T) {
	path := auditPath(t)
	a, err := NewAuditLogger(path)
	require.NoError(t, err)
	require.NoError(t, a.Append("a", "x", "one", nil))
	require.NoError(t, a.Append("a", "x", "two", nil))
	require.NoError(t, a.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first, second AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, GenesisHash, first.PreviousHash)
	assert.Equal(t, first.EventHash, second.PreviousHash)
	assert.Len(t, first.EventHash, 64)
}

func TestAuditTamperBreaksChain(t *testing.T) {
	path := auditPath(t)
	a, err := NewAuditLogger(path)
	require.NoError(t, err)
	require.NoError(t, a.Append("order", "grid-btc", "placed", map[string]interface{}{"price": "100"}))
	require.NoError(t, a.Append("order", "grid-btc", "filled", map[string]interface{}{"price": "100"}))
	require.NoError(t, a.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"price":"100"`, `"price":"999"`, 1)
	require.NotEqual(t, string(data), tampered, "fixture must actually change a record")
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	ok, err := VerifyChain(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuditDeletionBreaksChain(t *testing.T) {
	path := auditPath(t)
	a, err := NewAuditLogger(path)
	require.NoError(t, err)
	require.NoError(t, a.Append("a", "x", "one", nil))
	require.NoError(t, a.Append("a", "x", "two", nil))
	require.NoError(t, a.Append("a", "x", "three", nil))
	require.NoError(t, a.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// drop the middle record
	require.NoError(t, os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]+"\n"), 0o644))

	ok, err := VerifyChain(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuditResumesChainAcrossReopen(t *testing.T) {
	path := auditPath(t)

	a, err := NewAuditLogger(path)
	require.NoError(t, err)
	require.NoError(t, a.Append("lifecycle", "system", "started", nil))
	require.NoError(t, a.Close())

	// a fresh logger must link to the existing tail, not restart at genesis
	b, err := NewAuditLogger(path)
	require.NoError(t, err)
	require.NoError(t, b.Append("lifecycle", "system", "started", nil))
	require.NoError(t, b.Close())

	ok, err := VerifyChain(path)
	require.NoError(t, err)
	assert.True(t, ok)
}
