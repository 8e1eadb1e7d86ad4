package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/qnbridge/feelfit-bridge/internal/credential/entity"
	credrepo "github.com/qnbridge/feelfit-bridge/internal/credential/repo"
)

var ErrNotConfigured = errors.New("no credential configured")

// Service wraps the credential repository with the decode/normalize
// work the rest of the bridge should not care about.
type Service struct {
	repo *credrepo.CredentialRepo
}

func NewService(db *sqlx.DB, r *credrepo.CredentialRepo) *Service {
	if r == nil {
		r = credrepo.NewCredentialRepo(db)
	}
	return &Service{repo: r}
}

func (s *Service) EnsureTable(ctx context.Context) error {
	return s.repo.EnsureTable(ctx)
}

// State is the decoded credential row handed to the bridge at startup.
type State struct {
	ID               int64
	Email            string
	Token            string
	UserInfo         map[string]any
	SelectedProfiles []string
}

// Load reads the stored credential state, ErrNotConfigured when the
// table is empty.
func (s *Service) Load(ctx context.Context) (*State, error) {
	c, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}
	return decodeState(c)
}

func decodeState(c *entity.Credential) (*State, error) {
	st := &State{ID: c.ID, Email: c.Email, UserInfo: map[string]any{}}
	if c.Token != nil {
		st.Token = *c.Token
	}
	if len(c.UserInfoRaw) > 0 {
		if err := json.Unmarshal(c.UserInfoRaw, &st.UserInfo); err != nil {
			return nil, err
		}
	}
	if len(c.SelectedProfilesRaw) > 0 {
		if err := json.Unmarshal(c.SelectedProfilesRaw, &st.SelectedProfiles); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Register makes sure a row exists for the email and returns its id.
func (s *Service) Register(ctx context.Context, email string) (int64, error) {
	return s.repo.Upsert(ctx, email)
}

// StoreSession persists a fresh token and user info after a login.
func (s *Service) StoreSession(ctx context.Context, id int64, token string, userInfo map[string]any) error {
	return s.repo.SaveSession(ctx, id, token, userInfo)
}

// StoreAPIPasswordHash persists the local API password hash.
func (s *Service) StoreAPIPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.repo.SaveAPIPasswordHash(ctx, id, hash)
}

// StoreSelectedProfiles persists the profile selection.
func (s *Service) StoreSelectedProfiles(ctx context.Context, id int64, profileIDs []string) error {
	return s.repo.SaveSelectedProfiles(ctx, id, profileIDs)
}

// APIPasswordHash returns the stored local API password hash, empty
// when none is set.
func (s *Service) APIPasswordHash(ctx context.Context) (string, error) {
	c, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	if c.APIPasswordHash == nil {
		return "", nil
	}
	return *c.APIPasswordHash, nil
}
