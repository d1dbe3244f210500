// Package statestore persists node state that must survive across workflow
// executions: the random-character marker, cached choices and prompt
// enhancement history.
package statestore

import (
	"errors"
	"strconv"
	"time"

	"git.mills.io/prologic/bitcask"

	"sn0w/logger"
)

var (
	Data *bitcask.Bitcask
)

// ErrNotOpen is returned when the store is used before Init.
var ErrNotOpen = errors.New("state store not open")

// Init opens the store at path, creating it if needed. A background merge
// reclaims space daily.
func Init(path string) {
	// Increase the maximum value size to 10MB (from the default 65KB)
	var err error
	Data, err = bitcask.Open(path, bitcask.WithMaxValueSize(10*1024*1024))
	if err != nil {
		logger.Fatal("Failed to open state store", "error", err)
	}

	go func() {
		for {
			time.Sleep(24 * time.Hour)
			Merge()
		}
	}()
}

// Close flushes and closes the store.
func Close() {
	if Data == nil {
		return
	}
	if err := Data.Close(); err != nil {
		logger.Error("Error closing state store", "error", err)
	}
}

func Merge() {
	logger.Info("Merging state store to reclaim space...")
	err := Data.Merge()
	if err != nil {
		logger.Error("Error merging state store", "error", err)
	} else {
		logger.Info("State store merge complete.")
	}
}

func PutString(key string, value string) error {
	if Data == nil {
		return ErrNotOpen
	}
	compressedValue, err := compress([]byte(value))
	if err != nil {
		return err
	}
	return Data.Put(CacheKey(key), compressedValue)
}

func PutInt(key string, value int) error {
	return PutString(key, strconv.Itoa(value))
}

func PutBool(key string, value bool) error {
	return PutString(key, strconv.FormatBool(value))
}

func PutBytes(key string, value []byte) error {
	if Data == nil {
		return ErrNotOpen
	}
	compressedValue, err := compress(value)
	if err != nil {
		return err
	}
	return Data.Put(CacheKey(key), compressedValue)
}

func PutBytesExpireHours(key string, value []byte, expire int) error {
	if Data == nil {
		return ErrNotOpen
	}
	compressedValue, err := compress(value)
	if err != nil {
		return err
	}
	return Data.PutWithTTL(CacheKey(key), compressedValue, time.Hour*time.Duration(expire))
}

func Get(key string) ([]byte, error) {
	if Data == nil {
		return nil, ErrNotOpen
	}
	compressedValue, err := Data.Get(CacheKey(key))
	if err != nil {
		return nil, err
	}
	return decompress(compressedValue)
}

// GetBool reads a boolean state flag; an absent or unreadable key is false.
func GetBool(key string) bool {
	data, err := Get(key)
	if err != nil {
		return false
	}
	v, err := strconv.ParseBool(string(data))
	if err != nil {
		logger.Error("State flag is not a bool", "key", key, "value", string(data))
		return false
	}
	return v
}

func Has(key string) bool {
	return Data != nil && Data.Has(CacheKey(key))
}

func Delete(key string) error {
	if Data == nil {
		return ErrNotOpen
	}
	return Data.Delete(CacheKey(key))
}
