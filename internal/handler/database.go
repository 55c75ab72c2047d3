package handler

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
	"github.com/volcanion-company/volcanion-load-engine/internal/registry"
)

const maxDBConnections = 100

// DBType tags the supported database families.
type DBType int

const (
	DBUnknown DBType = iota
	DBMySQL
	DBPostgreSQL
	DBMongoDB
)

func (t DBType) String() string {
	switch t {
	case DBMySQL:
		return "mysql"
	case DBPostgreSQL:
		return "postgresql"
	case DBMongoDB:
		return "mongodb"
	default:
		return "unknown"
	}
}

// ParseDBType maps a type string to its tag, accepting common aliases.
func ParseDBType(s string) DBType {
	switch strings.ToLower(s) {
	case "mysql":
		return DBMySQL
	case "postgresql", "postgres":
		return DBPostgreSQL
	case "mongodb", "mongo":
		return DBMongoDB
	default:
		return DBUnknown
	}
}

// ConnInfo is a parsed database connection string.
type ConnInfo struct {
	Type     DBType
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// ParseConnectionString parses
// <scheme>://[user[:pass]@]host[:port][/database] with the scheme's
// default port.
func ParseConnectionString(cs string) (ConnInfo, error) {
	u, err := url.Parse(cs)
	if err != nil || u.Host == "" {
		return ConnInfo{}, fmt.Errorf("invalid connection string format")
	}

	info := ConnInfo{
		Type:     ParseDBType(u.Scheme),
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		info.Username = u.User.Username()
		info.Password, _ = u.User.Password()
	}

	if p := u.Port(); p != "" {
		info.Port, err = strconv.Atoi(p)
		if err != nil {
			return ConnInfo{}, fmt.Errorf("invalid port in connection string")
		}
	} else {
		switch info.Type {
		case DBMySQL:
			info.Port = 3306
		case DBPostgreSQL:
			info.Port = 5432
		case DBMongoDB:
			info.Port = 27017
		}
	}

	return info, nil
}

// dbConn is the session behind one connection-string registry slot.
type dbConn struct {
	info ConnInfo
}

// DBHandler simulates database load. Connections are tracked for real in
// the registry; queries sleep a uniform 100-500 ms and fabricate result
// sets so callers can validate load shape without a live server.
type DBHandler struct {
	conns *registry.Registry[*dbConn]
}

func NewDBHandler() *DBHandler {
	return &DBHandler{conns: registry.New[*dbConn](maxDBConnections)}
}

func (h *DBHandler) Protocol() protocol.Protocol { return protocol.Database }

// Execute dispatches a queued database request: connect, then run the
// payload query when one is present.
func (h *DBHandler) Execute(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	cs, query, dbType := req.URL, "", ""
	if req.Database != nil {
		if req.Database.ConnectionString != "" {
			cs = req.Database.ConnectionString
		}
		query = req.Database.Query
		dbType = req.Database.DatabaseType
	}
	if dbType == "" {
		if i := strings.Index(cs, "://"); i > 0 {
			dbType = cs[:i]
		}
	}

	h.Connect(cs, dbType, resp)
	if !resp.Success || query == "" {
		return
	}
	h.Query(cs, query, resp)
}

// Connect validates the connection string and marks the slot live.
func (h *DBHandler) Connect(connectionString, dbType string, resp *protocol.Response) {
	resp.Protocol = protocol.Database

	parsedType := ParseDBType(dbType)
	if parsedType == DBUnknown {
		resp.Fail(protocol.StatusInvalidState, fmt.Sprintf("Unsupported database type: %s", dbType))
		return
	}

	entry, err := h.conns.LookupOrCreate(registry.Key{ID: connectionString})
	if err != nil {
		resp.Fail(protocol.StatusInternalError, "Too many database connections")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if entry.Live {
		resp.OK(protocol.StatusOK, "Connection already established")
		resp.Database = &protocol.DatabaseResponseData{ResultSet: "Connection established"}
		return
	}

	info, err := ParseConnectionString(connectionString)
	if err != nil {
		resp.Fail(protocol.StatusInvalidState, "Invalid connection string format")
		return
	}
	info.Type = parsedType

	entry.Conn = &dbConn{info: info}
	entry.Live = true

	resp.OK(protocol.StatusOK, fmt.Sprintf("Connected to %s database at %s:%d/%s",
		info.Type, info.Host, info.Port, info.Database))
	resp.Database = &protocol.DatabaseResponseData{ResultSet: "Connection established"}
}

// Query classifies the statement by leading keyword and simulates its
// execution with a uniform 100-500 ms latency.
func (h *DBHandler) Query(connectionString, query string, resp *protocol.Response) {
	resp.Protocol = protocol.Database

	entry, ok := h.conns.Lookup(registry.Key{ID: connectionString})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No active database connection")
		return
	}

	entry.Mu.Lock()
	live := entry.Live
	entry.Mu.Unlock()
	if !live {
		resp.Fail(protocol.StatusInvalidState, "No active database connection")
		return
	}

	time.Sleep(h.queryLatency())

	trimmed := strings.TrimSpace(query)
	keyword := trimmed
	if i := strings.IndexByte(trimmed, ' '); i > 0 {
		keyword = trimmed[:i]
	}

	data := &protocol.DatabaseResponseData{}
	switch strings.ToUpper(keyword) {
	case "SELECT":
		data.RowsReturned = 3
		data.ResultSet = "id,name,email\n1,John,john@example.com\n2,Jane,jane@example.com\n3,Bob,bob@example.com"
		resp.OK(protocol.StatusOK, fmt.Sprintf("Query executed successfully. %d rows returned.", data.RowsReturned))
	case "INSERT":
		data.RowsAffected = 1
		resp.OK(protocol.StatusOK, fmt.Sprintf("Query executed successfully. %d row(s) inserted.", data.RowsAffected))
	case "UPDATE":
		data.RowsAffected = 2
		resp.OK(protocol.StatusOK, fmt.Sprintf("Query executed successfully. %d row(s) updated.", data.RowsAffected))
	case "DELETE":
		data.RowsAffected = 1
		resp.OK(protocol.StatusOK, fmt.Sprintf("Query executed successfully. %d row(s) deleted.", data.RowsAffected))
	default:
		resp.OK(protocol.StatusOK, "Query executed successfully.")
	}
	resp.Database = data
}

// Disconnect clears the live flag; the slot is kept for reconnects.
func (h *DBHandler) Disconnect(connectionString string, resp *protocol.Response) {
	resp.Protocol = protocol.Database

	entry, ok := h.conns.Lookup(registry.Key{ID: connectionString})
	if !ok {
		resp.Fail(protocol.StatusInvalidState, "No active database connection to disconnect")
		return
	}

	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if !entry.Live {
		resp.Fail(protocol.StatusInvalidState, "No active database connection to disconnect")
		return
	}

	entry.Conn = nil
	entry.Live = false

	resp.OK(protocol.StatusOK, "Database connection closed successfully")
}

func (h *DBHandler) queryLatency() time.Duration {
	return time.Duration(100+rand.Intn(400)) * time.Millisecond
}
