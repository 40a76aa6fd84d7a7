package model

import (
	"fmt"

	"github.com/roach88/metavault/internal/metaerr"
)

// migration upgrades a payload from schema `from` to `from+1`.
type migration struct {
	from  int
	apply func(payload []byte) ([]byte, error)
}

// migrations lists every single-hop upgrade in ascending order.
// Adding schema N means appending the N-1 → N step.
var migrations = []migration{
	{from: MetadataV1, apply: migrateMetadataV1ToV2},
}

// Migrate upgrades a metadata payload written at schema oldVersion to the
// current schema. It is pure: no I/O, no clock.
//
// A current-schema payload is returned unchanged with migrated=false. An
// unknown version returns a CodeSchemaVersionNotSupported error. Persisting
// the upgraded payload is the caller's decision.
func Migrate(payload []byte, oldVersion int) (current []byte, migrated bool, err error) {
	if oldVersion == CurrentMetadataVersion {
		return payload, false, nil
	}
	if oldVersion < MetadataV1 || oldVersion > CurrentMetadataVersion {
		return nil, false, metaerr.New(metaerr.CodeSchemaVersionNotSupported,
			"migrate metadata", "schema version %d", oldVersion)
	}

	version := oldVersion
	for _, step := range migrations {
		if step.from != version {
			continue
		}
		payload, err = step.apply(payload)
		if err != nil {
			return nil, false, fmt.Errorf("migrate metadata v%d to v%d: %w", version, version+1, err)
		}
		version++
	}

	if version != CurrentMetadataVersion {
		return nil, false, metaerr.New(metaerr.CodeSchemaVersionNotSupported,
			"migrate metadata", "no migration path from schema %d", oldVersion)
	}
	return payload, true, nil
}

// migrateMetadataV1ToV2 adds an empty swap section. Annotation content is
// always present in v1, so every note becomes "content present".
func migrateMetadataV1ToV2(payload []byte) ([]byte, error) {
	m, err := decodeMetadata(payload, MetadataV1)
	if err != nil {
		return nil, err
	}
	m.Version = MetadataV2
	return encodeMetadataV2(m), nil
}

// DecodeMetadataAt migrates a payload from the given schema and decodes it.
// migrated reports whether an upgrade was applied.
func DecodeMetadataAt(payload []byte, version int) (m UserMetadata, migrated bool, err error) {
	current, migrated, err := Migrate(payload, version)
	if err != nil {
		return NewUserMetadata(), false, err
	}
	m, err = DecodeMetadata(current)
	if err != nil {
		return NewUserMetadata(), false, err
	}
	return m, migrated, nil
}
