//go:build gcp

package gcp

import (
	"context"
	"fmt"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// SecretStore keeps the versioned keystore as the latest payload of one
// Secret Manager secret. Secret Manager's own version history is not the
// nonce version history: retired nonce versions must disappear from the
// loaded set, so the whole keystore document is rewritten on every mutation.
type SecretStore struct {
	client    *secretmanager.Client
	projectID string
	secretID  string
	clock     func() time.Time
}

// NewSecretStore wraps a Secret Manager client for the given secret id.
func NewSecretStore(client *secretmanager.Client, projectID, secretID string) *SecretStore {
	return &SecretStore{client: client, projectID: projectID, secretID: secretID, clock: time.Now}
}

// WithClock overrides the time source.
func (s *SecretStore) WithClock(clock func() time.Time) *SecretStore {
	s.clock = clock
	return s
}

func (s *SecretStore) secretName() string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, s.secretID)
}

// GetNonce returns the nonce for version, or the active version when
// version <= 0. A missing version is a NonceNotFound lookup; an unreadable
// secret is an unreachable one.
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

// IsReachable probes the secret metadata. A missing secret still counts as
// reachable; only transport or permission failures do not.
func (s *SecretStore) IsReachable(ctx context.Context) bool {
	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: s.secretName()})
	if err == nil {
		return true
	}
	return status.Code(err) == codes.NotFound
}

// load reads the latest keystore payload, or an empty keystore when the
// secret or its payload does not exist yet.
func (s *SecretStore) load(ctx context.Context) (*store.Keystore, error) {
	out, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretName() + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return store.NewKeystore(), nil
		}
		return nil, contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "read secret %s", s.secretID)
	}
	if out.GetPayload() == nil || len(out.GetPayload().GetData()) == 0 {
		return store.NewKeystore(), nil
	}

	ks, err := store.DecodeKeystore(out.GetPayload().GetData())
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

	if err := s.ensureSecret(ctx); err != nil {
		return err
	}

	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretName(),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	})
	if err != nil {
		return contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "write secret %s", s.secretID)
	}
	return nil
}

func (s *SecretStore) ensureSecret(ctx context.Context) error {
	_, err := s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.projectID,
		SecretId: s.secretID,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return contracts.WrapCoded(contracts.CodeSecretStoreUnavailable, err, "create secret %s", s.secretID)
	}
	return nil
}
