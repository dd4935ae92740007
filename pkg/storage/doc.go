/*
Package storage provides persisted key-value storage for swms client state.

The session the console keeps between runs is three small string entries: the
access token, the refresh token and the serialized user profile. Store abstracts
where they live so the token store can treat them as one logical record.

# Backends

	┌──────────────────── STORAGE BACKENDS ────────────────────┐
	│                                                            │
	│  BoltStore    <dataDir>/swms.db, bucket "session"         │
	│               default; survives restarts, single host     │
	│                                                            │
	│  RedisStore   hash "<prefix>:session"                     │
	│               shared by several consoles                  │
	│                                                            │
	│  MemoryStore  process memory; tests and --ephemeral       │
	└────────────────────────────────────────────────────────────┘

# Transactions

PutAll writes all entries in one transaction (a bbolt Update, a single Redis HSET,
or one locked map update), so a reader never sees a new access token paired with
an old refresh token. Delete is idempotent.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.PutAll(map[string][]byte{
		"swms_access_token":  []byte(access),
		"swms_refresh_token": []byte(refresh),
	})

	value, err := store.Get("swms_access_token")
	if errors.Is(err, storage.ErrNotFound) {
		// not logged in
	}
*/
package storage
