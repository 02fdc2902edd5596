package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-walletsync/core"
)

type FactoryOption func(*RepositoryFactory)

// WithSecretProvider seals program credentials at rest.
func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

func WithCapabilityTTL(ttl time.Duration) FactoryOption {
	return func(f *RepositoryFactory) {
		f.capabilityTTL = ttl
	}
}

type RepositoryFactory struct {
	db            *bun.DB
	secrets       core.SecretProvider
	capabilityTTL time.Duration

	programStore      *ProgramStore
	participantStore  *ParticipantStore
	passStore         *PassStore
	webhookEventStore *WebhookEventStore
	jobStore          *NotificationJobStore
	diagnosticStore   *DiagnosticLogStore
	capabilityProbe   *CapabilityProbe
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	return newRepositoryFactory(client, opts...)
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	return newRepositoryFactory(db, opts...)
}

func newRepositoryFactory(client any, opts ...FactoryOption) (*RepositoryFactory, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	f := &RepositoryFactory{db: db, capabilityTTL: core.DefaultCapabilityCacheTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) initStores() error {
	var err error
	if f.programStore, err = NewProgramStore(f.db, f.secrets); err != nil {
		return err
	}
	if f.participantStore, err = NewParticipantStore(f.db); err != nil {
		return err
	}
	if f.passStore, err = NewPassStore(f.db); err != nil {
		return err
	}
	if f.webhookEventStore, err = NewWebhookEventStore(f.db); err != nil {
		return err
	}
	if f.jobStore, err = NewNotificationJobStore(f.db); err != nil {
		return err
	}
	if f.diagnosticStore, err = NewDiagnosticLogStore(f.db); err != nil {
		return err
	}
	if f.capabilityProbe, err = NewCapabilityProbe(f.db, f.capabilityTTL); err != nil {
		return err
	}
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) Programs() *ProgramStore {
	if f == nil {
		return nil
	}
	return f.programStore
}

func (f *RepositoryFactory) Participants() *ParticipantStore {
	if f == nil {
		return nil
	}
	return f.participantStore
}

func (f *RepositoryFactory) Passes() *PassStore {
	if f == nil {
		return nil
	}
	return f.passStore
}

func (f *RepositoryFactory) WebhookEvents() *WebhookEventStore {
	if f == nil {
		return nil
	}
	return f.webhookEventStore
}

func (f *RepositoryFactory) NotificationJobs() *NotificationJobStore {
	if f == nil {
		return nil
	}
	return f.jobStore
}

func (f *RepositoryFactory) Diagnostics() *DiagnosticLogStore {
	if f == nil {
		return nil
	}
	return f.diagnosticStore
}

func (f *RepositoryFactory) Capabilities() *CapabilityProbe {
	if f == nil {
		return nil
	}
	return f.capabilityProbe
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: persistence client is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
