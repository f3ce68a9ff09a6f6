// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
bio-plp builds per-window pileup count matrices from an indexed BAM.  Each
reference position gets one column, followed by one column per insertion slot
observed after it; rows count A, C, G, T and gap per strand.

Query bases can be excluded from the count with locus blacklists: long
insertions (-max-insertion) and low-identity sliding windows (-min-identity).

Sample usage:
bio-plp counts \
    -bed my-regions.bed \
    -out output-prefix \
    my.bam

bio-plp identity -start 10 -end 40 5S20=1X4I10=
bio-plp blacklist -max-insertion 3 5S20=1X4I10=
*/
package main
