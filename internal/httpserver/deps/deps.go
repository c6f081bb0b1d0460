package deps

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/folders"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/oauth"
)

// Accounts is the account-connection side of the platform integration.
type Accounts interface {
	StartAuthorization(ctx context.Context, userID string) (oauth.AuthStart, error)
	CompleteAuthorization(ctx context.Context, userID, code, state, sessionID string) (string, error)
	Disconnect(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (oauth.Status, error)
}

// Syncer runs bookmark syncs.
type Syncer interface {
	RunSync(ctx context.Context, userID, folderID string) (domain.SyncResult, error)
	Folders(ctx context.Context, userID string) ([]folders.View, error)
}

// FolderMapper binds remote folders to collections.
type FolderMapper interface {
	MapFolder(ctx context.Context, userID, folderID, folderName string, target folders.MapTarget) (domain.FolderMapping, error)
}

// Pinger is anything /readyz can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time // for testing, defaults to time.Now
	AllowedHosts  []string         // Host headers allowed on the API routes
	AllowedCIDRS  []string         // IPs allowed to access healthz/readyz endpoints
	TrustProxy    bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	DefaultUserID string           // identity used when X-User-ID is absent

	Accounts     Accounts
	Syncer       Syncer
	FolderMapper FolderMapper

	RedisClient *redis.Client // credentials, pending authorizations
	Database    Pinger        // bookmark store

	MediaDir        string // directory served under MediaPublicPath
	MediaPublicPath string

	SyncBurst      int // sync requests per client IP before throttling
	SyncRefillPerM int
	SecureCookies  bool // set Secure on the auth session cookie
}
