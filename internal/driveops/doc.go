// Package driveops maps path-oriented filesystem operations onto the
// ID-addressed Graph drive API.
//
// Resolver turns paths into item IDs, walking one segment at a time from the
// nearest cached ancestor and recording every record it learns in a shared
// metacache.Cache. Lister pages through directory listings and commits them
// to the cache only once every page has arrived.
//
// Upload is an explicit state machine over a resumable upload session, and
// Writer adapts it to io.WriteCloser for streams of unknown length. Reader is
// a ranged-download cursor with optional block caching.
//
// TransferManager builds whole-file downloads and uploads on top of these,
// with .partial files, resume and QuickXorHash verification. Refresher and
// Copier cover delta-driven cache refresh and server-side copies.
package driveops
