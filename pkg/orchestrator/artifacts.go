package orchestrator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// stageArtifactPath returns the per-stage artifact path spec.md §6
// requires for resumption and audit: `stage{NN}_result.json`.
func stageArtifactPath(runDir string, stageNumber int) string {
	return filepath.Join(runDir, fmt.Sprintf("stage%02d_result.json", stageNumber))
}

// writeArtifact marshals v and writes it to every stage number in
// stageNumbers via a write-to-temp, rename-into-place sequence, the same
// crash-safe idiom pkg/cache uses for its disk caches.
func writeArtifact(runDir string, stageNumbers []int, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal artifact: %w", err)
	}
	for _, n := range stageNumbers {
		if err := writeFileAtomic(stageArtifactPath(runDir, n), data); err != nil {
			return err
		}
	}
	return nil
}

// writeJSONAtomic marshals v and writes it directly to path, for the
// protocol-level final artifacts that aren't keyed by stage number.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("orchestrator: create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("orchestrator: write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("orchestrator: close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("orchestrator: rename artifact into place: %w", err)
	}
	return nil
}

// readArtifact loads the artifact for stageNumber into out, reporting
// (false, nil) on a clean miss (file absent).
func readArtifact(runDir string, stageNumber int, out any) (bool, error) {
	data, err := os.ReadFile(stageArtifactPath(runDir, stageNumber))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("orchestrator: read stage %d artifact: %w", stageNumber, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("orchestrator: decode stage %d artifact: %w", stageNumber, err)
	}
	return true, nil
}

// inputDigest hashes the upstream input a phase consumes, so resumption
// can tell "artifact present" apart from "artifact present AND still
// matches its upstream" (spec.md §4.1: "skip stage if persisted artifact
// present and upstream byte-identical").
func inputDigest(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// digestMarkerPath returns the path of the sidecar file recording the
// upstream digest an artifact was built from.
func digestMarkerPath(runDir string, stageNumber int) string {
	return stageArtifactPath(runDir, stageNumber) + ".digest"
}

// artifactFresh reports whether a persisted artifact for stageNumber
// exists and was built from the same upstream input as upstreamDigest.
func artifactFresh(runDir string, stageNumber int, upstreamDigest string) bool {
	stored, err := os.ReadFile(digestMarkerPath(runDir, stageNumber))
	if err != nil {
		return false
	}
	if _, statErr := os.Stat(stageArtifactPath(runDir, stageNumber)); statErr != nil {
		return false
	}
	return bytes.Equal(bytes.TrimSpace(stored), []byte(upstreamDigest))
}

// markArtifactFresh records the upstream digest an artifact was built
// from, for future resumption checks.
func markArtifactFresh(runDir string, stageNumbers []int, upstreamDigest string) error {
	for _, n := range stageNumbers {
		if err := writeFileAtomic(digestMarkerPath(runDir, n), []byte(upstreamDigest)); err != nil {
			return err
		}
	}
	return nil
}
