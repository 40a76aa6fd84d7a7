package metastore

import (
	"github.com/roach88/metavault/internal/envelope"
	"github.com/roach88/metavault/internal/metaerr"
	"github.com/roach88/metavault/internal/model"
)

// metadataCodec seals user metadata in a metadata envelope.
type metadataCodec struct {
	kr envelope.Keyring
}

func (c metadataCodec) Seal(m model.UserMetadata) ([]byte, error) {
	payload, err := model.EncodeMetadata(m)
	if err != nil {
		return nil, err
	}
	return envelope.SealMetadata(payload, model.CurrentMetadataVersion, c.kr)
}

// Open rejects unknown schema versions before trying any key.
func (c metadataCodec) Open(data []byte) (model.UserMetadata, bool, error) {
	version, err := envelope.PeekMetadataVersion(data)
	if err != nil {
		return model.NewUserMetadata(), false, err
	}
	if version < model.MetadataV1 || version > model.CurrentMetadataVersion {
		return model.NewUserMetadata(), false, metaerr.New(metaerr.CodeSchemaVersionNotSupported,
			"open metadata", "schema version %d", version)
	}

	payload, version, err := envelope.OpenMetadata(data, c.kr)
	if err != nil {
		return model.NewUserMetadata(), false, err
	}
	return model.DecodeMetadataAt(payload, version)
}

func (metadataCodec) Empty() model.UserMetadata {
	return model.NewUserMetadata()
}

// addressBookCodec seals address books in an address book envelope.
// Books read at an older schema are reported as migrated so they get
// rewritten at the current one.
type addressBookCodec struct {
	kr envelope.Keyring
}

func (c addressBookCodec) Seal(ab model.AddressBookContacts) ([]byte, error) {
	ab.Version = model.CurrentAddressBookVersion
	payload, err := model.EncodeAddressBook(ab)
	if err != nil {
		return nil, err
	}
	return envelope.SealAddressBook(payload, c.kr)
}

func (c addressBookCodec) Open(data []byte) (model.AddressBookContacts, bool, error) {
	payload, err := envelope.OpenAddressBook(data, c.kr)
	if err != nil {
		return model.NewAddressBook(), false, err
	}
	ab, err := model.DecodeAddressBook(payload)
	if err != nil {
		return ab, false, err
	}
	migrated := ab.Version != model.CurrentAddressBookVersion
	ab.Version = model.CurrentAddressBookVersion
	return ab, migrated, nil
}

func (addressBookCodec) Empty() model.AddressBookContacts {
	return model.NewAddressBook()
}
