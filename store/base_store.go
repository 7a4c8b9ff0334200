package store

const (
	defaultKeyAttribute = "path"
	defaultHitsField    = "hits"
	defaultIncrement    = int64(1)
)

type baseStore struct {
	tableName    string
	keyAttribute string
	hitsField    string
	increment    int64
}

func newBaseStore(tableName string) *baseStore {
	return &baseStore{
		tableName:    tableName,
		keyAttribute: defaultKeyAttribute,
		hitsField:    defaultHitsField,
		increment:    defaultIncrement,
	}
}

func (s *baseStore) setTableName(tableName string) {
	s.tableName = tableName
}

func (s *baseStore) setKeyAttribute(name string) {
	s.keyAttribute = name
}

func (s *baseStore) setHitsField(name string) {
	s.hitsField = name
}

func (s *baseStore) setIncrement(n int64) {
	s.increment = n
}

func (s *baseStore) TableName() string {
	return s.tableName
}

func (s *baseStore) KeyAttribute() string {
	return s.keyAttribute
}

func (s *baseStore) HitsField() string {
	return s.hitsField
}

var _ storeOptionScopable = (*baseStore)(nil)
