package repository

import "github.com/google/uuid"

// IDGenerator 生成记录 id
type IDGenerator interface {
	NewID() (string, error)
}

// UUIDGenerator 生成随机 UUID (v4)
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
