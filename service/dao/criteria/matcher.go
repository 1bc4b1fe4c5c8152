package criteria

import (
	"github.com/veltis/measure/model/measurement"
	"github.com/veltis/measure/service/dao"
)

// FilterByStatus reports whether a stored measure with the given status
// matches the supplied parameters. A single "Status" parameter may carry one
// status or a list of acceptable statuses; anything else matches everything.
func FilterByStatus(status measurement.Status, parameters []*dao.Parameter) bool {
	switch len(parameters) {
	case 0:
		return true
	case 1:
		if parameters[0].Name == "Status" {
			switch actual := parameters[0].Value.(type) {
			case string:
				return string(status) == actual
			case []string:
				for _, s := range actual {
					if string(status) == s {
						return true
					}
				}
				return false
			}
		}
	}
	return true
}
