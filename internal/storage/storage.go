package storage

import "swapScope/internal/model"

// Storage defines a sink for discovered pool snapshots.
type Storage interface {
	PutPoolBatch(states []model.PoolState) error
}
