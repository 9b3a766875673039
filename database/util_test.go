package database

var testDB = makeTestDB()
var testServer = MakeTempServer()

func makeTestDB() *DB {
	return makeDB()
}
