package docstore

import (
	"encoding/json"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/types"
	"go.vocdoni.io/dvote/db/metadb"
)

const specimenTD3 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\n" +
	"L898902C36UTO7408122F1204159ZE184226B<<<<<10"

func testEnvelope(c *qt.C) *document.Envelope {
	env := &document.Envelope{
		Category:          types.CategoryPassport,
		MRZ:               specimenTD3,
		DigestAlgorithm:   "sha256",
		Signature:         types.HexBytes{0x01},
		SignerCertificate: types.HexBytes{0x02},
		Synthetic:         true,
	}
	record, err := env.RawIdentityRecord()
	c.Assert(err, qt.IsNil)
	env.DataGroupHashes, err = document.NewDataGroupHashes("sha256", record, nil)
	c.Assert(err, qt.IsNil)
	return env
}

func TestImportAndList(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(c))
	env := testEnvelope(c)

	record, err := s.Import(env)
	c.Assert(err, qt.IsNil)
	c.Assert(record.Category, qt.Equals, types.CategoryPassport)
	c.Assert(record.DocumentType, qt.Equals, "mock_passport")
	c.Assert(record.Mock, qt.IsTrue)
	c.Assert(record.Registered, qt.IsFalse)

	records, err := s.List()
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 1)
	c.Assert(records[0].DocumentID, qt.DeepEquals, record.DocumentID)

	got, err := s.Get(record.DocumentID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Category, qt.Equals, record.Category)

	loaded, err := s.LoadEnvelope(record.DocumentID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.MRZ, qt.Equals, env.MRZ)
}

func TestDocumentIDStability(t *testing.T) {
	c := qt.New(t)
	env := testEnvelope(c)
	id1, err := DocumentID(env)
	c.Assert(err, qt.IsNil)

	// Correcting the authority reference must not move the id.
	env.Authority = types.HexBytes{0xaa, 0xbb}
	id2, err := DocumentID(env)
	c.Assert(err, qt.IsNil)
	c.Assert(id2, qt.DeepEquals, id1)

	// Changing the document itself must.
	env.DigestAlgorithm = "sha384"
	id3, err := DocumentID(env)
	c.Assert(err, qt.IsNil)
	c.Assert(id3, qt.Not(qt.DeepEquals), id1)
}

func TestUpdateRegistration(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(c))
	record, err := s.Import(testEnvelope(c))
	c.Assert(err, qt.IsNil)
	c.Assert(record.LastCheckedAt.IsZero(), qt.IsTrue)

	c.Assert(s.UpdateRegistration(record.DocumentID, true), qt.IsNil)
	got, err := s.Get(record.DocumentID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Registered, qt.IsTrue)
	c.Assert(got.LastCheckedAt.After(time.Now().Add(-time.Minute)), qt.IsTrue)
}

func TestLoadEnvelopeMigratesLegacy(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(c)
	s := New(database)

	// Store a pre-category envelope by hand: a "mock_passport" type tag
	// and no documentCategory field.
	env := testEnvelope(c)
	raw, err := json.Marshal(map[string]any{
		"documentType":    "mock_passport",
		"mrz":             env.MRZ,
		"dataGroupHashes": env.DataGroupHashes,
		"digestAlgorithm": env.DigestAlgorithm,
		"signature":       env.Signature,
	})
	c.Assert(err, qt.IsNil)
	id := types.HexBytes{0x01, 0x02}
	tx := database.WriteTx()
	c.Assert(tx.Set(append([]byte("envelope/"), id...), raw), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	loaded, err := s.LoadEnvelope(id)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Category, qt.Equals, types.CategoryPassport)
	c.Assert(loaded.Synthetic, qt.IsTrue)

	// The migrated form must have been persisted back.
	loaded2, err := s.LoadEnvelope(id)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded2.Category, qt.Equals, types.CategoryPassport)
}

func TestGetNotFound(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(c))
	_, err := s.Get(types.HexBytes{0xde, 0xad})
	c.Assert(err, qt.ErrorIs, ErrNotFound)
	_, err = s.LoadEnvelope(types.HexBytes{0xde, 0xad})
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestDelete(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(c))
	record, err := s.Import(testEnvelope(c))
	c.Assert(err, qt.IsNil)
	c.Assert(s.Delete(record.DocumentID), qt.IsNil)
	_, err = s.Get(record.DocumentID)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}
