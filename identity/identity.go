package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
)

var suite = suites.MustFind("Ed25519")

// StorageKey is the single key under which an exported identity is persisted.
const StorageKey = "trivir/identity"

// Identity is this peer's signing keypair together with its stable string id.
// The id is derived from the public key, so it survives export/import and is
// identical on every peer that observes the key.
type Identity struct {
	ID      string
	Public  kyber.Point
	private kyber.Scalar
}

type exported struct {
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

// Generate creates a fresh keypair without touching any storage.
func Generate() (*Identity, error) {
	private := suite.Scalar().Pick(suite.RandomStream())
	public := suite.Point().Mul(private, nil)
	id, err := fromKeys(public, private)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// New returns the identity persisted in st when one is present, generating a
// fresh one otherwise. A blob that no longer deserializes is cleared and
// replaced. Storage failures are never fatal: the peer falls back to an
// ephemeral identity rather than refusing to start.
func New(st Storage) (*Identity, error) {
	if st == nil {
		return Generate()
	}
	blob, ok, err := st.Get(StorageKey)
	if err == nil && ok {
		id, err := importBlob(blob)
		if err == nil {
			return id, nil
		}
		// Stale or corrupt blob: drop it and start over.
		_ = st.Clear(StorageKey)
	}
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if blob, err := id.export(); err == nil {
		_ = st.Set(StorageKey, blob)
	}
	return id, nil
}

// Refresh discards any persisted identity and generates a new one, persisting
// it when storage is available.
func Refresh(st Storage) (*Identity, error) {
	if st != nil {
		_ = st.Clear(StorageKey)
	}
	return New(st)
}

// Sign returns a Schnorr signature over msg using this peer's private key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(suite, id.private, msg)
}

// PublicBytes returns the marshaled public key for embedding in envelopes.
func (id *Identity) PublicBytes() ([]byte, error) {
	return id.Public.MarshalBinary()
}

// Verify reports whether sig is a valid signature over msg for the marshaled
// public key pub. Unparseable keys verify as false, never as an error: a bad
// key on the wire is a protocol problem, not a caller problem.
func Verify(pub, msg, sig []byte) bool {
	point := suite.Point()
	if err := point.UnmarshalBinary(pub); err != nil {
		return false
	}
	return schnorr.Verify(suite, point, msg, sig) == nil
}

// PeerID derives the stable peer id for a marshaled public key.
func PeerID(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

func fromKeys(public kyber.Point, private kyber.Scalar) (*Identity, error) {
	pub, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &Identity{
		ID:      PeerID(pub),
		Public:  public,
		private: private,
	}, nil
}

func (id *Identity) export() ([]byte, error) {
	pub, err := id.Public.MarshalBinary()
	if err != nil {
		return nil, err
	}
	priv, err := id.private.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(exported{Public: pub, Private: priv})
}

func importBlob(blob []byte) (*Identity, error) {
	var ex exported
	if err := json.Unmarshal(blob, &ex); err != nil {
		return nil, fmt.Errorf("decode identity blob: %w", err)
	}
	public := suite.Point()
	if err := public.UnmarshalBinary(ex.Public); err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	private := suite.Scalar()
	if err := private.UnmarshalBinary(ex.Private); err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	return fromKeys(public, private)
}
