// Package principal holds the account model of the portal: the closed Role
// enumeration and its normalization table, lifecycle Status, email
// normalization, and the Directory that verifies passwords and links
// external identities over a document-store Repository.
//
// Two Repository implementations ship with the package: MemoryRepository
// for tests and demos, and MongoRepository backed by MongoDB.
package principal
