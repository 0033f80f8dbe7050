package state

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"alpacadash/pkg/alpaca"
)

const deviceBucket = "devices"

// persistedDevice is the subset of a Descriptor worth keeping across
// restarts. Connection state is always Disconnected after a restart.
type persistedDevice struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Type    alpaca.DeviceType `json:"type"`
	Address string            `json:"address"`
	Number  int               `json:"number"`
}

// Repository persists the device table in a bbolt database, one JSON
// value per device keyed by ID.
type Repository struct {
	db *bolt.DB
}

func NewRepository(db *bolt.DB) (*Repository, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(deviceBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %v", err)
	}
	return &Repository{db: db}, nil
}

// Save stores or replaces a device record.
func (r *Repository) Save(d Descriptor) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(deviceBucket))
		value, err := json.Marshal(persistedDevice{
			ID:      d.ID,
			Name:    d.Name,
			Type:    d.Type,
			Address: d.Address,
			Number:  d.Number,
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(d.ID), value)
	})
}

// Delete removes a device record.
func (r *Repository) Delete(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(deviceBucket)).Delete([]byte(id))
	})
}

// Load returns every persisted device.
func (r *Repository) Load() ([]Descriptor, error) {
	var out []Descriptor

	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(deviceBucket)).ForEach(func(k, v []byte) error {
			var p persistedDevice
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decoding device %s: %v", k, err)
			}
			out = append(out, Descriptor{
				ID:      p.ID,
				Name:    p.Name,
				Type:    p.Type,
				Address: p.Address,
				Number:  p.Number,
			})
			return nil
		})
	})
	return out, err
}
