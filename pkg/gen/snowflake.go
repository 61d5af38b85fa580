package gen

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewNode))

// NewNode returns the snowflake node for this process. The node id comes
// from SNOWFLAKE_NODE_ID and defaults to 1.
func NewNode() (*snowflake.Node, error) {
	id := int64(1)
	if v, ok := os.LookupEnv("SNOWFLAKE_NODE_ID"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		id = n
	}
	return snowflake.NewNode(id)
}
