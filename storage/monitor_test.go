package storage

import "testing"

func TestIOTotals(t *testing.T) {
	before := IOTotals()
	StoreRead(100)
	StoreWritten(40)
	StoreWritten(2)
	FileRead(7)
	FileWritten(4096)
	after := IOTotals()

	diff := IORates{
		StoreBytesRead:    after.StoreBytesRead - before.StoreBytesRead,
		StoreBytesWritten: after.StoreBytesWritten - before.StoreBytesWritten,
		FileBytesRead:     after.FileBytesRead - before.FileBytesRead,
		FileBytesWritten:  after.FileBytesWritten - before.FileBytesWritten,
		Gets:              after.Gets - before.Gets,
		Puts:              after.Puts - before.Puts,
	}
	expected := IORates{
		StoreBytesRead:    100,
		StoreBytesWritten: 42,
		FileBytesRead:     7,
		FileBytesWritten:  4096,
		Gets:              1,
		Puts:              2,
	}
	if diff != expected {
		t.Errorf("Expected %+v, got %+v\n", expected, diff)
	}
}
