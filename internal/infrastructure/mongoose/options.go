package mongoose

import (
	"fmt"
	"strings"
	"time"

	"socket-service/internal/domain"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultDBName = "test"

// clientSettings is the subset of connectionOptions understood by the driver
// layer. Keys are matched case-insensitively.
type clientSettings struct {
	AppName                  string `mapstructure:"appName"`
	DBName                   string `mapstructure:"dbName"`
	MaxPoolSize              uint64 `mapstructure:"maxPoolSize"`
	MinPoolSize              uint64 `mapstructure:"minPoolSize"`
	ConnectTimeoutMS         int64  `mapstructure:"connectTimeoutMS"`
	ServerSelectionTimeoutMS int64  `mapstructure:"serverSelectionTimeoutMS"`
	SocketTimeoutMS          int64  `mapstructure:"socketTimeoutMS"`
	ReplicaSet               string `mapstructure:"replicaSet"`
	RetryWrites              *bool  `mapstructure:"retryWrites"`
	DirectConnection         *bool  `mapstructure:"directConnection"`
	ReadPreference           string `mapstructure:"readPreference"`

	// mongoose 5 parser flags, accepted and ignored
	UseNewURLParser    bool `mapstructure:"useNewUrlParser"`
	UseUnifiedTopology bool `mapstructure:"useUnifiedTopology"`
	UseCreateIndex     bool `mapstructure:"useCreateIndex"`
	UseFindAndModify   bool `mapstructure:"useFindAndModify"`
}

func decodeSettings(raw map[string]interface{}) (clientSettings, error) {
	var s clientSettings
	if len(raw) == 0 {
		return s, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return s, err
	}
	if err := decoder.Decode(raw); err != nil {
		return s, fmt.Errorf("%w: connectionOptions: %v", domain.ErrInvalidConnection, err)
	}
	return s, nil
}

// buildClientOptions turns a target into driver options and the database name.
func buildClientOptions(target domain.ConnectionTarget) (*options.ClientOptions, string, error) {
	s, err := decodeSettings(target.ConnectionOptions)
	if err != nil {
		return nil, "", err
	}

	opts := options.Client().ApplyURI(target.URL)
	if s.AppName != "" {
		opts.SetAppName(s.AppName)
	}
	if s.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(s.MaxPoolSize)
	}
	if s.MinPoolSize > 0 {
		opts.SetMinPoolSize(s.MinPoolSize)
	}
	if s.ConnectTimeoutMS > 0 {
		opts.SetConnectTimeout(time.Duration(s.ConnectTimeoutMS) * time.Millisecond)
	}
	if s.ServerSelectionTimeoutMS > 0 {
		opts.SetServerSelectionTimeout(time.Duration(s.ServerSelectionTimeoutMS) * time.Millisecond)
	}
	if s.SocketTimeoutMS > 0 {
		opts.SetSocketTimeout(time.Duration(s.SocketTimeoutMS) * time.Millisecond)
	}
	if s.ReplicaSet != "" {
		opts.SetReplicaSet(s.ReplicaSet)
	}
	if s.RetryWrites != nil {
		opts.SetRetryWrites(*s.RetryWrites)
	}
	if s.DirectConnection != nil {
		opts.SetDirect(*s.DirectConnection)
	}
	if s.ReadPreference != "" {
		mode, err := readpref.ModeFromString(s.ReadPreference)
		if err != nil {
			return nil, "", fmt.Errorf("%w: readPreference: %v", domain.ErrInvalidConnection, err)
		}
		rp, err := readpref.New(mode)
		if err != nil {
			return nil, "", fmt.Errorf("%w: readPreference: %v", domain.ErrInvalidConnection, err)
		}
		opts.SetReadPreference(rp)
	}

	if err := opts.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidConnection, err)
	}

	dbName := s.DBName
	if dbName == "" {
		dbName = databaseFromURL(target.URL)
	}
	return opts, dbName, nil
}

// databaseFromURL extracts the path segment of a mongodb:// or
// mongodb+srv:// url, which may list several comma separated hosts.
func databaseFromURL(raw string) string {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return defaultDBName
	}
	db := rest[slash+1:]
	if q := strings.Index(db, "?"); q >= 0 {
		db = db[:q]
	}
	if db == "" {
		return defaultDBName
	}
	return db
}
