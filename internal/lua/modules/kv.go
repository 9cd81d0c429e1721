package modules

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/leafd/internal/kv"
)

const bucketTypeName = "kv_bucket"

// scriptBucketPrefix keeps script buckets apart from the daemon's own ones.
const scriptBucketPrefix = "script:"

// KVModule exposes persistent sqlite buckets to Lua:
//
//	local kv = require("kv")
//	local b = kv.bucket("counters")
//	b:store("taps", 3, { ttl = 60 })
type KVModule struct {
	db *sql.DB
}

// NewKVModule creates a new KV module.
func NewKVModule(db *sql.DB) *KVModule {
	return &KVModule{db: db}
}

// Loader is the module loader for Lua.
func (m *KVModule) Loader(L *lua.LState) int {
	mt := L.NewTypeMetatable(bucketTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), bucketMethods))

	mod := L.NewTable()
	L.SetField(mod, "bucket", L.NewFunction(m.bucket))

	L.Push(mod)
	return 1
}

// bucket(name) -> Bucket
func (m *KVModule) bucket(L *lua.LState) int {
	name := L.CheckString(1)
	if name == "" {
		L.ArgError(1, "bucket name must not be empty")
	}

	ud := L.NewUserData()
	ud.Value = kv.NewBucket(m.db, scriptBucketPrefix+name)
	L.SetMetatable(ud, L.GetTypeMetatable(bucketTypeName))

	L.Push(ud)
	return 1
}

var bucketMethods = map[string]lua.LGFunction{
	"store":  bucketStore,
	"get":    bucketGet,
	"exists": bucketExists,
	"delete": bucketDelete,
	"keys":   bucketKeys,
	"clear":  bucketClear,
}

func checkBucket(L *lua.LState, pos int) *kv.Bucket {
	ud := L.CheckUserData(pos)
	if bucket, ok := ud.Value.(*kv.Bucket); ok {
		return bucket
	}
	L.ArgError(pos, "bucket expected")
	return nil
}

// store(key, value, opts)
// opts: { ttl = seconds }
func bucketStore(L *lua.LState) int {
	bucket := checkBucket(L, 1)
	key := L.CheckString(2)
	value := LuaToGo(L.Get(3))

	var opts *kv.StoreOptions
	if t := L.OptTable(4, nil); t != nil {
		if ttl, ok := L.GetField(t, "ttl").(lua.LNumber); ok {
			opts = &kv.StoreOptions{TTL: time.Duration(float64(ttl) * float64(time.Second))}
		}
	}

	if err := bucket.Store(contextOf(L), key, value, opts); err != nil {
		log.Warn().Err(err).Str("bucket", bucket.Name()).Str("key", key).Msg("Failed to store value")
	}
	return 0
}

// get(key) -> value | nil
func bucketGet(L *lua.LState) int {
	bucket := checkBucket(L, 1)
	key := L.CheckString(2)

	value, err := bucket.Get(contextOf(L), key)
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket.Name()).Str("key", key).Msg("Failed to get value")
		L.Push(lua.LNil)
		return 1
	}
	L.Push(GoToLua(L, value))
	return 1
}

// exists(key) -> bool
func bucketExists(L *lua.LState) int {
	bucket := checkBucket(L, 1)
	key := L.CheckString(2)

	exists, err := bucket.Exists(contextOf(L), key)
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket.Name()).Str("key", key).Msg("Failed to check key")
	}
	L.Push(lua.LBool(exists))
	return 1
}

// delete(key) -> bool
func bucketDelete(L *lua.LState) int {
	bucket := checkBucket(L, 1)
	key := L.CheckString(2)

	deleted, err := bucket.Delete(contextOf(L), key)
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket.Name()).Str("key", key).Msg("Failed to delete key")
	}
	L.Push(lua.LBool(deleted))
	return 1
}

// keys() -> table
func bucketKeys(L *lua.LState) int {
	bucket := checkBucket(L, 1)

	tbl := L.NewTable()
	keys, err := bucket.Keys(contextOf(L))
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket.Name()).Msg("Failed to list keys")
	}
	for _, key := range keys {
		tbl.Append(lua.LString(key))
	}
	L.Push(tbl)
	return 1
}

func bucketClear(L *lua.LState) int {
	bucket := checkBucket(L, 1)
	if err := bucket.Clear(contextOf(L)); err != nil {
		log.Warn().Err(err).Str("bucket", bucket.Name()).Msg("Failed to clear bucket")
	}
	return 0
}
