package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ID returns t's content-addressed identifier: a deterministic hash over
// the canonical, hash-mode serialization of its (namespace, name,
// parameters). Two processes computing the same task with the same
// parameters always produce the same id; adding a backward-compatible
// parameter with a declared compat default does not change it.
func ID(t Task) (string, error) {
	payload, err := expandTask(t, ModeHash)
	if err != nil {
		return "", fmt.Errorf("task: computing id for %s:%s: %w", t.Namespace(), t.Name(), err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("task: computing id for %s:%s: %w", t.Namespace(), t.Name(), err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
