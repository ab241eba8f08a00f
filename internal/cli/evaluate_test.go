package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const compliantDay = `{
  "driver": {"card_number": "DE42", "surname": "Muster"},
  "activities": {"2024-05-06": [
    {"activity": 3, "from": "06:00", "duration": "04:00"},
    {"activity": 0, "from": "10:00", "duration": "00:45"},
    {"activity": 3, "from": "10:45", "duration": "03:00"},
    {"activity": 0, "from": "13:45", "duration": "11:00"}
  ]}
}`

const longStint = `{"segments": [
  {"start": "2024-05-06T06:00:00Z", "end": "2024-05-06T11:00:00Z", "activity": "DRIVING"},
  {"start": "yesterday", "duration": 30, "activity": 0}
]}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestEvaluatePrintsYAML(t *testing.T) {
	code, out, stderr := run(t, "", "evaluate", writeFile(t, "card.json", compliantDay))
	require.Equal(t, 0, code, stderr)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Equal(t, "daily_activities", doc["shape"])
	require.Equal(t, true, doc["compliant"])
	require.Equal(t, 4, doc["segments"])
	identity := doc["identity"].(map[string]any)
	require.Equal(t, "DE42", identity["driver_card_number"])

	report := doc["report"].(map[string]any)
	daily := report["daily"].([]any)
	require.Len(t, daily, 2)
	require.Equal(t, 420, daily[0].(map[string]any)["driving_minutes"])
}

func TestEvaluateJSONFromStdinWithTimezone(t *testing.T) {
	code, out, stderr := run(t, compliantDay, "evaluate", "--format", "json", "--tz", "Europe/Berlin", "-")
	require.Equal(t, 0, code, stderr)

	var doc evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, "Europe/Berlin", doc.Timezone)
	require.Equal(t, []string{"-"}, doc.Files)
	// Read as UTC+2 the final rest ends at 22:45 UTC and never reaches May 7.
	require.Len(t, doc.Report.Daily, 1)
	require.Equal(t, 420, doc.Report.Daily[0].DrivingMinutes)
}

func TestEvaluateFailOnViolation(t *testing.T) {
	path := writeFile(t, "segments.json", longStint)

	code, _, stderr := run(t, "", "evaluate", "--show-skipped", "-f", "json", path)
	require.Equal(t, 0, code, stderr)

	code, out, stderr := run(t, "", "evaluate", "--fail-on-violation", "-f", "json", "--show-skipped", path)
	require.Equal(t, ExitCodeViolations, code)
	require.Contains(t, stderr, "1 violation(s) found")

	var doc evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.False(t, doc.Compliant)
	require.Equal(t, 1, doc.Skipped)
	require.Len(t, doc.SkippedRecords, 1)
	require.Len(t, doc.Report.BreakViolations, 1)
}

func TestEvaluateMergesFiles(t *testing.T) {
	code, out, stderr := run(t, "", "evaluate", "-f", "json",
		writeFile(t, "card.json", compliantDay),
		writeFile(t, "vu.json", `{"vehicle": {"vin": "WDB1"}, "segments": [{"start": "2024-05-07T06:00:00Z", "duration": 60, "activity": 3}]}`),
	)
	require.Equal(t, 0, code, stderr)

	var doc evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, "merged", string(doc.Shape))
	require.Equal(t, "WDB1", doc.Identity.VIN)
	require.Equal(t, 5, doc.Segments)
}

func TestEvaluateErrors(t *testing.T) {
	code, _, stderr := run(t, "", "evaluate")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "requires at least 1 arg")

	code, _, stderr = run(t, "", "evaluate", "--format", "xml", "x.json")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "must be one of yaml, json")

	code, _, stderr = run(t, "", "evaluate", "--tz", "Mars/Base", writeFile(t, "a.json", compliantDay))
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--tz")

	code, _, stderr = run(t, "", "evaluate", filepath.Join(t.TempDir(), "missing.json"))
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "missing.json")

	code, _, stderr = run(t, `{"segments":`, "evaluate", "-")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "-: ingest: decode document")
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "", "version")
	require.Equal(t, 0, code)
	require.Equal(t, "tachocheck dev\n", out)
}
