/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# EntityDB: hierarchical entities on a sorted key-value store

## Data Model

* Entity, a typed object addressed by its path from a root entity, e.g. Patient/p1/Encounter/e1.

* Row, all cells of one entity. The row key is the encoded path, so every descendant's key starts with its ancestor's key.

* Cell, one (row, family, qualifier, timestamp, value, label) datum. The family is the entity type, the qualifier the dotted field path.

* Generation marker, a reserved cell written with every save. Cells older than the newest marker are stale and never read.

* Search index, one side table per index mapping a term to the ids of the entities carrying it.

* Label, a visibility expression on a cell, checked against the reader's authorizations on every scan.

## Layers

* keycodec, flatten, mutation - pure encoders

* aggregator - folds row-ordered cells into entities, single, bulk and lazy modes

* gateway - tables, scanners, batch writers, on top of common/kvstore

* entitystore, searchindex - the public API

### Storage

one rocksdb or leveldb instance, one column family per table

## Building Blocks

* Rocksdb
* Leveldb
* Protobuf
* Prometheus

*/

package entitydb
