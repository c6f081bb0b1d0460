// Package folders binds remote bookmark folders to local collections.
package folders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

// ErrInvalidTarget is returned when a mapping names neither an existing
// collection nor asks for a new one.
var ErrInvalidTarget = errors.New("map target needs a collection id or createNew")

// Store is the persistence the mapper needs.
type Store interface {
	CreateCollection(ctx context.Context, userID, name string) (*domain.Collection, error)
	GetCollection(ctx context.Context, userID, id string) (*domain.Collection, error)
	SaveFolderMapping(ctx context.Context, m *domain.FolderMapping) error
	GetFolderMapping(ctx context.Context, userID, platform, folderID string) (*domain.FolderMapping, error)
	ListFolderMappings(ctx context.Context, userID, platform string) ([]domain.FolderMapping, error)
	AddMemberships(ctx context.Context, collectionID string, bookmarkIDs []string) (int, error)
}

// MapTarget says where a folder's items go.
type MapTarget struct {
	CreateNew    bool
	CollectionID string
}

// View is a remote folder annotated with its local mapping.
type View struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CollectionID string `json:"collectionId,omitempty"`
	Mapped       bool   `json:"mapped"`
}

// Mapper manages folder mappings of one platform.
type Mapper struct {
	store    Store
	platform string
	log      logger.Logger
}

// NewMapper creates a mapper for platform
func NewMapper(store Store, platform string, log logger.Logger) *Mapper {
	return &Mapper{store: store, platform: platform, log: log.Named("folders")}
}

// MapFolder binds folderID to a collection, replacing any previous binding.
// With CreateNew the folder keeps the collection it is already bound to, and
// a collection named after the folder is created only when there is none;
// otherwise CollectionID must be one of the user's collections.
func (m *Mapper) MapFolder(ctx context.Context, userID, folderID, folderName string, target MapTarget) (domain.FolderMapping, error) {
	if strings.TrimSpace(folderID) == "" {
		return domain.FolderMapping{}, errors.New("folder id is required")
	}

	var (
		collectionID string
		created      bool
	)
	switch {
	case target.CreateNew:
		id, err := m.boundCollection(ctx, userID, folderID)
		if err != nil {
			return domain.FolderMapping{}, err
		}
		if id == "" {
			name := strings.TrimSpace(folderName)
			if name == "" {
				name = "X folder " + folderID
			}
			c, err := m.store.CreateCollection(ctx, userID, name)
			if err != nil {
				return domain.FolderMapping{}, err
			}
			id, created = c.ID, true
		}
		collectionID = id
	case target.CollectionID != "":
		c, err := m.store.GetCollection(ctx, userID, target.CollectionID)
		if err != nil {
			return domain.FolderMapping{}, err
		}
		collectionID = c.ID
	default:
		return domain.FolderMapping{}, ErrInvalidTarget
	}

	mapping := domain.FolderMapping{
		UserID:           userID,
		Platform:         m.platform,
		RemoteFolderID:   folderID,
		RemoteFolderName: folderName,
		CollectionID:     collectionID,
	}
	if err := m.store.SaveFolderMapping(ctx, &mapping); err != nil {
		return domain.FolderMapping{}, err
	}

	m.log.Info("folder mapped",
		logger.UserID(userID),
		logger.String("folder_id", folderID),
		logger.String("collection_id", collectionID),
		logger.Bool("created", created),
	)
	return mapping, nil
}

// boundCollection returns the collection folderID is mapped to, or "" when
// it has no mapping or the collection no longer exists.
func (m *Mapper) boundCollection(ctx context.Context, userID, folderID string) (string, error) {
	mp, err := m.store.GetFolderMapping(ctx, userID, m.platform, folderID)
	if errors.Is(err, domain.ErrMappingNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	c, err := m.store.GetCollection(ctx, userID, mp.CollectionID)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// Mapping returns the binding of folderID or domain.ErrMappingNotFound
func (m *Mapper) Mapping(ctx context.Context, userID, folderID string) (*domain.FolderMapping, error) {
	return m.store.GetFolderMapping(ctx, userID, m.platform, folderID)
}

// ListMappings returns all of the user's bindings
func (m *Mapper) ListMappings(ctx context.Context, userID string) ([]domain.FolderMapping, error) {
	return m.store.ListFolderMappings(ctx, userID, m.platform)
}

// EnsureMemberships adds bookmarks to a collection; existing links are kept.
func (m *Mapper) EnsureMemberships(ctx context.Context, collectionID string, bookmarkIDs []string) error {
	added, err := m.store.AddMemberships(ctx, collectionID, bookmarkIDs)
	if err != nil {
		return fmt.Errorf("failed to ensure memberships: %w", err)
	}
	m.log.Debug("memberships ensured",
		logger.String("collection_id", collectionID),
		logger.Int("requested", len(bookmarkIDs)),
		logger.Int("added", added),
	)
	return nil
}

// Annotate joins remote folders with the user's mappings, in remote order.
func (m *Mapper) Annotate(ctx context.Context, userID string, remote []domain.Folder) ([]View, error) {
	mappings, err := m.ListMappings(ctx, userID)
	if err != nil {
		return nil, err
	}
	byFolder := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		byFolder[mp.RemoteFolderID] = mp.CollectionID
	}

	views := make([]View, 0, len(remote))
	for _, f := range remote {
		v := View{ID: f.ID, Name: f.Name}
		if cid, ok := byFolder[f.ID]; ok {
			v.CollectionID = cid
			v.Mapped = true
		}
		views = append(views, v)
	}
	return views, nil
}
