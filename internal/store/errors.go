package store

import (
	"errors"
	"fmt"
)

var errNotInitialised = errors.New("store: wallet registry has not been saved")

func errIndexGap(index, next int) error {
	return fmt.Errorf("store: transaction %d saved before transaction %d", index, next)
}
