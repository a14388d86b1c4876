// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIConfigStore_EmptyUntilFirstUpdate(t *testing.T) {
	store := NewUIConfigStore()

	_, _, _, ok := store.Get()
	assert.False(t, ok, "empty store must report no config")
}

func TestUIConfigStore_VersionsAdvance(t *testing.T) {
	store := NewUIConfigStore()

	v1, t1 := store.Update(map[string]interface{}{"theme": "dark"})
	require.Equal(t, 1, v1)
	require.False(t, t1.IsZero())

	config, version, updatedAt, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, 1, version)
	assert.Equal(t, "dark", config["theme"])
	assert.Equal(t, t1, updatedAt)

	v2, _ := store.Update(map[string]interface{}{"theme": "light"})
	assert.Equal(t, 2, v2)

	config, version, _, ok = store.Get()
	require.True(t, ok)
	assert.Equal(t, 2, version)
	assert.Equal(t, "light", config["theme"])
}

func TestUIConfigStore_ConcurrentUpdates(t *testing.T) {
	store := NewUIConfigStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Update(map[string]interface{}{"theme": "dark"})
		}()
	}
	wg.Wait()

	_, version, _, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, 50, version, "every update must bump the version exactly once")
}
