package interfaces

// StorageManager groups the local stores of the client
type StorageManager interface {
	KeyValueStorage() KeyValueStorage
	RecentJobStorage() RecentJobStorage
	ResultStorage() ResultStorage

	// DB returns the underlying database handle
	DB() interface{}
	Close() error
}
