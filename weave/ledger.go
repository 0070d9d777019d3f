package weave

import (
	"crypto/sha1"
	"fmt"

	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

const ledgerModulePrefix = "module:"

func moduleLedger(store Storage, module string) Storage {
	return KeyPrefixStorage(store, ledgerModulePrefix+module)
}

// RecordOutcomes replaces the ledger entries of the result module with the outcomes of the pass, keyed by label.
func RecordOutcomes(store Storage, result *PassResult) error {
	ledger := moduleLedger(store, result.Module)
	if err := ledger.Clear(); err != nil {
		return fmt.Errorf("clear ledger for %s: %w", result.Module, err)
	}
	var buf []byte
	for _, o := range result.Outcomes {
		encoded, err := msgpack.Marshal(&o)
		if err != nil {
			return fmt.Errorf("encode outcome %s: %w", o.Label, err)
		}
		buf = SnappyCompress(buf[:0], encoded)
		if err := ledger.Save(o.Label, buf); err != nil {
			return fmt.Errorf("save outcome %s: %w", o.Label, err)
		}
	}
	return nil
}

// LoadOutcome returns the recorded outcome for one method label.
func LoadOutcome(store Storage, module, label string) (MethodOutcome, bool, error) {
	var o MethodOutcome
	blob, ok, err := moduleLedger(store, module).Load(label)
	if err != nil || !ok {
		return o, false, err
	}
	decoded, err := SnappyDecompress(nil, blob)
	if err != nil {
		return o, false, fmt.Errorf("decompress outcome %s: %w", label, err)
	} else if err := msgpack.Unmarshal(decoded, &o); err != nil {
		return o, false, fmt.Errorf("decode outcome %s: %w", label, err)
	}
	return o, true, nil
}

// LoadOutcomes returns every recorded outcome of a module, ordered by label.
func LoadOutcomes(store Storage, module string) ([]MethodOutcome, error) {
	labels, err := moduleLedger(store, module).ListKeysPrefix("")
	if err != nil {
		return nil, err
	}
	outcomes := make([]MethodOutcome, 0, len(labels))
	for _, label := range labels {
		o, ok, err := LoadOutcome(store, module, label)
		if err != nil {
			return nil, err
		} else if ok {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes, nil
}

// BodyFingerprint returns a short stable digest of the body disassembly. Handles do not contribute, so equal bodies
// loaded from different sources share a fingerprint.
func BodyFingerprint(b *MethodBody) string {
	sum := sha1.Sum([]byte(Disassemble(b)))
	return base91.StdEncoding.EncodeToString(sum[:])
}
