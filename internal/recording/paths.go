package recording

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SegmentPath returns the staging location of a job's segment file for
// the given index. The name is derived only from persisted job fields
// so any process can recompute it, including a daemon that did not
// start the capture.
func SegmentPath(stagingDir string, job *Job, ext string, index int) string {
	if ext == "" {
		ext = ".ts"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	target := SanitizeTargetID(job.TargetID)
	stamp := job.CreatedAt.UTC().Format("20060102-150405")
	name := fmt.Sprintf("%s-%s-%03d%s", target, stamp, index, ext)
	return filepath.Join(stagingDir, target, name)
}

// SanitizeTargetID maps a target identifier to a filesystem-safe form.
func SanitizeTargetID(targetID string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", "*", "-", "?", "", "\"", "", "<", "", ">", "", "|", "", " ", "_")
	cleaned := strings.TrimSpace(replacer.Replace(targetID))
	if cleaned == "" {
		return "target"
	}
	return cleaned
}
