package store

import "fmt"

type storeOptionScopable interface {
	setTableName(string)
	setKeyAttribute(string)
	setHitsField(string)
	setIncrement(int64)
}

type StoreOption[T any] func(T) error

func WithTableName[T interface{ setTableName(string) }](tableName string) StoreOption[T] {
	return func(s T) error {
		if tableName == "" {
			return fmt.Errorf("table name cannot be empty")
		}
		s.setTableName(tableName)
		return nil
	}
}

func WithKeyAttribute[T interface{ setKeyAttribute(string) }](name string) StoreOption[T] {
	return func(s T) error {
		if name == "" {
			return fmt.Errorf("key attribute cannot be empty")
		}
		s.setKeyAttribute(name)
		return nil
	}
}

func WithHitsField[T interface{ setHitsField(string) }](name string) StoreOption[T] {
	return func(s T) error {
		if name == "" {
			return fmt.Errorf("hits field cannot be empty")
		}
		s.setHitsField(name)
		return nil
	}
}

// WithIncrement changes the amount added per hit. It must be positive: the
// counter never goes down.
func WithIncrement[T interface{ setIncrement(int64) }](n int64) StoreOption[T] {
	return func(s T) error {
		if n <= 0 {
			return fmt.Errorf("increment must be positive, got %d", n)
		}
		s.setIncrement(n)
		return nil
	}
}
