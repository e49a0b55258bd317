package aws

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// SecretStore keeps the versioned keystore as a single SecureString SSM
// parameter. Rotate and Retire read-modify-write the whole document; SSM's
// own parameter versioning is not used because retired nonce versions must
// disappear, not remain readable as history.
type SecretStore struct {
	client SSMAPI
	name   string
	clock  func() time.Time
}

// NewSecretStore wraps an SSM client for the given parameter name.
func NewSecretStore(client SSMAPI, name string) *SecretStore {
	return &SecretStore{client: client, name: name, clock: time.Now}
}

// WithClock overrides the time source.
func (s *SecretStore) WithClock(clock func() time.Time) *SecretStore {
	s.clock = clock
	return s
}

// GetNonce returns the nonce for version, or the active version when
// version <= 0. A missing version is a NonceNotFound lookup; an unreadable
// parameter is an unreachable one.
func (s *SecretStore) GetNonce(ctx context.Context, version int) (contracts.NonceLookup, error) {
	ks, err := s.load(ctx)
	if err != nil {
		return contracts.UnreachableNonce(), err
	}

	nonce, ok := ks.Lookup(version)
	if !ok {
		return contracts.MissingNonce(), nil
	}
	nonce.LoadedAt = s.clock()
	return contracts.FoundNonce(nonce), nil
}

// ListVersions returns the loaded versions in ascending order.
func (s *SecretStore) ListVersions(ctx context.Context) ([]int, error) {
	ks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return ks.Versions(), nil
}

// Rotate installs value as the next version and makes it active.
func (s *SecretStore) Rotate(ctx context.Context, value string) (int, error) {
	probe := contracts.Nonce{Value: value}
	if err := probe.ValidateValue(); err != nil {
		return 0, contracts.WrapCoded(contracts.CodeInvalidInput, err, "rotate nonce")
	}

	ks, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	next := ks.Install(value, s.clock())
	if err := s.persist(ctx, ks); err != nil {
		return 0, err
	}
	return next, nil
}

// Retire removes a version from the keystore.
func (s *SecretStore) Retire(ctx context.Context, version int) error {
	ks, err := s.load(ctx)
	if err != nil {
		return err
	}

	ks.Remove(version)
	return s.persist(ctx, ks)
}

// IsReachable probes the parameter. A missing parameter still counts as
// reachable; only transport or permission failures do not.
func (s *SecretStore) IsReachable(ctx context.Context) bool {
	_, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.name),
	})
	if err == nil {
		return true
	}
	var notFound *ssmtypes.ParameterNotFound
	return errors.As(err, &notFound)
}

// load reads the keystore parameter, or an empty keystore when the parameter
// does not exist yet.
func (s *SecretStore) load(ctx context.Context) (*store.Keystore, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return store.NewKeystore(), nil
		}
		return nil, contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "read parameter %s", s.name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return store.NewKeystore(), nil
	}

	ks, err := store.DecodeKeystore([]byte(*out.Parameter.Value))
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "decode keystore")
	}
	return ks, nil
}

func (s *SecretStore) persist(ctx context.Context, ks *store.Keystore) error {
	data, err := ks.Encode()
	if err != nil {
		return contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "encode keystore")
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.name),
		Value:     aws.String(string(data)),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "write parameter %s", s.name)
	}
	return nil
}
